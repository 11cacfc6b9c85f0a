package ring

import (
	"errors"
	"testing"
)

func TestNewRejectsBadSizes(t *testing.T) {
	for _, n := range []uint32{0, 3, 100, 1000} {
		if _, err := New[Packet](n); !errors.Is(err, ErrRingSize) {
			t.Errorf("New(%d) err = %v, want ErrRingSize", n, err)
		}
	}
	r, err := New[Packet](256)
	if err != nil {
		t.Fatal(err)
	}
	if r.Size() != 256 {
		t.Errorf("Size = %d", r.Size())
	}
}

func TestIndexArithmetic(t *testing.T) {
	r, _ := New[Fragment](8)
	if got := r.Increment(7); got != 0 {
		t.Errorf("Increment(7) = %d, want 0", got)
	}
	if got := r.Add(6, 5); got != 3 {
		t.Errorf("Add(6,5) = %d, want 3", got)
	}
	tests := []struct{ start, end, want uint32 }{
		{0, 0, 0},
		{0, 5, 5},
		{6, 2, 4},
		{3, 2, 7},
	}
	for _, tt := range tests {
		if got := r.RangeCount(tt.start, tt.end); got != tt.want {
			t.Errorf("RangeCount(%d,%d) = %d, want %d", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestQueuePostAndPublish(t *testing.T) {
	q, err := NewQueue(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !q.Post([]byte("abc"), []byte("de")) {
		t.Fatal("first Post failed")
	}
	if !q.Post([]byte("f")) {
		t.Fatal("second Post failed")
	}
	if q.Packets.Pending() != 0 {
		t.Fatal("packets visible before Publish")
	}
	q.Publish()
	if q.Packets.Pending() != 2 || q.Fragments.Pending() != 3 {
		t.Fatalf("pending = %d/%d, want 2/3", q.Packets.Pending(), q.Fragments.Pending())
	}
	p := q.Packets.At(0)
	if p.FragmentIndex != 0 || p.FragmentCount != 2 || p.Length != 5 {
		t.Errorf("packet 0 = %+v", p)
	}
	if p := q.Packets.At(1); p.FragmentIndex != 2 || p.Length != 1 {
		t.Errorf("packet 1 = %+v", p)
	}
}

func TestQueuePostFull(t *testing.T) {
	q, _ := NewQueue(4, 4)
	for i := 0; i < 3; i++ {
		if !q.Post([]byte{byte(i)}) {
			t.Fatalf("Post %d failed", i)
		}
	}
	if q.Post([]byte{9}) {
		t.Error("Post succeeded on a full packet ring")
	}

	q, _ = NewQueue(8, 4)
	if q.Post(make([][]byte, 4)...) {
		t.Error("Post succeeded with more fragments than free fragment slots")
	}
	if q.Post() {
		t.Error("Post with no fragments succeeded")
	}
}

func TestQueueRelease(t *testing.T) {
	q, _ := NewQueue(8, 8)
	q.Post([]byte("a"), []byte("b"))
	q.Post([]byte("c"))
	q.Publish()

	q.Release(1)
	if q.Packets.BeginIndex != 1 || q.Fragments.BeginIndex != 2 {
		t.Errorf("after Release(1): begin %d/%d", q.Packets.BeginIndex, q.Fragments.BeginIndex)
	}
	q.Release(10)
	if q.Packets.Pending() != 0 || q.Fragments.BeginIndex != 3 {
		t.Errorf("after Release(10): pending %d frag begin %d", q.Packets.Pending(), q.Fragments.BeginIndex)
	}
}
