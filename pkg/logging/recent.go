package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Record is a formatted log record kept for the API.
type Record struct {
	Time    time.Time  `json:"time"`
	Level   slog.Level `json:"level"`
	Message string     `json:"message"`
	Attrs   string     `json:"attrs,omitempty"`
}

// recentBuffer is a circular buffer of the newest records.
type recentBuffer struct {
	mu    sync.RWMutex
	buf   []Record
	head  int // next write position
	count int
}

func (rb *recentBuffer) add(rec Record) {
	rb.mu.Lock()
	rb.buf[rb.head] = rec
	rb.head = (rb.head + 1) % len(rb.buf)
	if rb.count < len(rb.buf) {
		rb.count++
	}
	rb.mu.Unlock()
}

// RecentHandler forwards records to a base handler and remembers the most
// recent ones.
type RecentHandler struct {
	base   slog.Handler
	rb     *recentBuffer
	attrs  []slog.Attr
	groups []string
}

// NewRecentHandler wraps base, keeping up to size records.
func NewRecentHandler(base slog.Handler, size int) *RecentHandler {
	if size < 1 {
		size = 1
	}
	return &RecentHandler{base: base, rb: &recentBuffer{buf: make([]Record, size)}}
}

// Enabled implements slog.Handler.
func (h *RecentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)
	h.rb.add(Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   formatAttrs(r, h.attrs, h.groups),
	})
	return err
}

// WithAttrs implements slog.Handler.
func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RecentHandler{
		base:   h.base.WithAttrs(attrs),
		rb:     h.rb,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *RecentHandler) WithGroup(name string) slog.Handler {
	return &RecentHandler{
		base:   h.base.WithGroup(name),
		rb:     h.rb,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// Latest returns up to n records at or above minLevel, newest first.
func (h *RecentHandler) Latest(n int, minLevel slog.Level) []Record {
	rb := h.rb
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Record
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + len(rb.buf)) % len(rb.buf)
		if rb.buf[idx].Level >= minLevel {
			result = append(result, rb.buf[idx])
		}
	}
	return result
}

func formatAttrs(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})
	return strings.TrimSpace(b.String())
}
