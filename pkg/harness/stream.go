package harness

import (
	"io"
	"net"
	"time"
)

// StreamReporter forwards events as length-prefixed frames over a stream
// transport, usually across a process or machine boundary. The listening
// side owns the exit code; Finish only reflects transport health.
type StreamReporter struct {
	w       io.Writer
	wireErr error
}

// NewStreamReporter wraps an established stream.
func NewStreamReporter(w io.Writer) *StreamReporter {
	return &StreamReporter{w: w}
}

// DialStream connects to a listener over the given network ("tcp" or
// "unix") within the timeout and returns a reporter over the connection.
func DialStream(network, addr string, timeout time.Duration) (*StreamReporter, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewStreamReporter(conn), nil
}

func (r *StreamReporter) Report(ev TestEvent) {
	if r.wireErr != nil {
		return
	}
	r.wireErr = WriteEvent(r.w, ev)
}

func (r *StreamReporter) Finish() int {
	if c, ok := r.w.(io.Closer); ok {
		c.Close()
	}
	if r.wireErr != nil {
		return 1
	}
	return 0
}
