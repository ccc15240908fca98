package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// WriterSink exports events as JSON lines to an io.Writer, one object per
// event. Writes are serialized so concurrent exports never interleave.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink wraps w as a JSON-lines sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Export writes one event as a JSON line.
func (s *WriterSink) Export(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(event)
}
