// Package replay feeds frames from a capture file through an adapter's
// rings, so the classification and accounting paths can be exercised
// without hardware.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/psaab/nicqos/pkg/ring"
	"github.com/psaab/nicqos/pkg/stats"
)

// Target is the ring side of an adapter.
type Target interface {
	TxQueue() *ring.Queue
	RxQueue() *ring.Queue
	ServiceTx() int
	ServiceRx() int
}

// Options controls a replay.
type Options struct {
	Direction stats.Direction
	// Batch is the number of frames posted per ring service; 0 means 32.
	Batch int
	// FragmentSize splits frames into fragments of at most this many
	// bytes; 0 posts each frame as a single fragment.
	FragmentSize int
}

// Result summarizes a replay.
type Result struct {
	Frames   int `json:"frames"`
	Posted   int `json:"posted"`
	Serviced int `json:"serviced"`
	Dropped  int `json:"dropped"`
}

const defaultBatch = 32

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// File replays the pcap or pcapng capture at path.
func File(ctx context.Context, path string, t Target, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	res, err := Reader(ctx, f, t, opts)
	if err == nil {
		slog.Info("replay finished", "file", path, "direction", opts.Direction,
			"frames", res.Frames, "serviced", res.Serviced, "dropped", res.Dropped)
	}
	return res, err
}

// Reader replays a capture read from r. Frames must be Ethernet.
//
// On receive a service accounts for the window published by the previous
// one, so the final batch stays published but unaccounted, as it would on
// a live ring with no further traffic.
func Reader(ctx context.Context, r io.Reader, t Target, opts Options) (Result, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return Result{}, fmt.Errorf("read capture header: %w", err)
	}

	var (
		next     func() ([]byte, error)
		linkType layers.LinkType
	)
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return Result{}, fmt.Errorf("read pcapng: %w", err)
		}
		linkType = ng.LinkType()
		next = func() ([]byte, error) {
			data, _, err := ng.ReadPacketData()
			return data, err
		}
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return Result{}, fmt.Errorf("read pcap: %w", err)
		}
		linkType = pr.LinkType()
		next = func() ([]byte, error) {
			data, _, err := pr.ReadPacketData()
			return data, err
		}
	}
	if linkType != layers.LinkTypeEthernet {
		return Result{}, fmt.Errorf("unsupported link type %s", linkType)
	}

	p := newPoster(t, opts)
	for {
		if err := ctx.Err(); err != nil {
			return p.res, err
		}
		data, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.res, fmt.Errorf("read frame %d: %w", p.res.Frames+1, err)
		}
		p.add(data)
	}
	p.flush()
	return p.res, nil
}

type poster struct {
	t       Target
	opts    Options
	batch   int
	pending int
	res     Result
}

func newPoster(t Target, opts Options) *poster {
	batch := opts.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	// A receive ring holds the scanned window and the next batch at once.
	q := t.TxQueue()
	if opts.Direction == stats.Receive {
		q = t.RxQueue()
	}
	if limit := int(q.Packets.Size()-1) / 2; batch > limit {
		batch = max(limit, 1)
	}
	return &poster{t: t, opts: opts, batch: batch}
}

func (p *poster) queue() *ring.Queue {
	if p.opts.Direction == stats.Receive {
		return p.t.RxQueue()
	}
	return p.t.TxQueue()
}

func (p *poster) add(frame []byte) {
	p.res.Frames++
	frags := split(frame, p.opts.FragmentSize)
	if !p.queue().Post(frags...) {
		p.flush()
		if !p.queue().Post(frags...) {
			p.res.Dropped++
			return
		}
	}
	p.res.Posted++
	p.pending++
	if p.pending >= p.batch {
		p.flush()
	}
}

// flush runs one ring service over the frames posted since the last one.
// On receive the service accounts for the previously published window and
// publishes the new frames; the accounted window is then released.
func (p *poster) flush() {
	if p.pending == 0 {
		return
	}
	p.pending = 0
	q := p.queue()
	if p.opts.Direction == stats.Receive {
		n := p.t.ServiceRx()
		q.Release(uint32(n))
		p.res.Serviced += n
		return
	}
	q.Publish()
	p.res.Serviced += p.t.ServiceTx()
}

func split(frame []byte, size int) [][]byte {
	if size <= 0 || len(frame) <= size {
		return [][]byte{frame}
	}
	frags := make([][]byte, 0, (len(frame)+size-1)/size)
	for len(frame) > size {
		frags = append(frags, frame[:size])
		frame = frame[size:]
	}
	return append(frags, frame)
}
