package engine

import (
	"bytes"
	"sync"

	"compat-backend/internal/shared/telemetry"
)

// LineSink receives each output line as it arrives. stream is "stdout" or "stderr".
type LineSink func(stream, line string)

// lineWriter splits a byte stream into lines and forwards each complete line.
type lineWriter struct {
	stream string
	emit   func(stream, line string)
	mu     sync.Mutex
	buf    []byte
}

func newLineWriter(stream string, emit func(stream, line string)) *lineWriter {
	return &lineWriter{stream: stream, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:idx], "\r")
		w.emit(w.stream, string(line))
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

// Flush forwards any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return
	}
	w.emit(w.stream, string(bytes.TrimRight(w.buf, "\r")))
	w.buf = nil
}

// outputFanout logs every line and hands it to the caller's sink.
// Lines from both streams are serialized so the sink never runs concurrently.
type outputFanout struct {
	mu     sync.Mutex
	fields map[string]any
	sink   LineSink
}

func (f *outputFanout) emit(stream, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fields := make(map[string]any, len(f.fields)+2)
	for k, v := range f.fields {
		fields[k] = v
	}
	fields["stream"] = stream
	fields["line"] = line
	telemetry.Info("engine.output", fields)

	if f.sink != nil {
		f.sink(stream, line)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit <= 0 {
		b.truncated = b.truncated || n > 0
		return n, nil
	}
	if len(p) >= b.limit {
		b.truncated = b.truncated || len(b.buf) > 0 || len(p) > b.limit
		b.buf = append(b.buf[:0], p[len(p)-b.limit:]...)
		return n, nil
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.truncated = true
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return n, nil
}

// String returns the retained tail.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Truncated reports whether earlier output was discarded.
func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
