package harness

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum allowed event frame payload (16 MiB).
const MaxFrameSize = 16 << 20

// ProtocolError reports a malformed or truncated event frame, or a payload
// that does not decode to a known event.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// WriteEvent writes one length-prefixed event frame to w. The frame format
// is an 8-byte little-endian unsigned length followed by that many bytes
// of JSON.
func WriteEvent(w io.Writer, ev TestEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(len(payload)))
	copy(frame[8:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadEvent reads exactly one event frame from r. It returns io.EOF when
// the stream ends cleanly at a frame boundary.
func ReadEvent(r io.Reader) (TestEvent, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return TestEvent{}, io.EOF
		}
		return TestEvent{}, &ProtocolError{Reason: "read length prefix", Err: err}
	}

	length := binary.LittleEndian.Uint64(prefix[:])
	if length > MaxFrameSize {
		return TestEvent{}, &ProtocolError{Reason: fmt.Sprintf("frame size %d exceeds maximum %d", length, MaxFrameSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return TestEvent{}, &ProtocolError{Reason: "read frame payload", Err: err}
	}

	var ev TestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TestEvent{}, &ProtocolError{Reason: "decode event", Err: err}
	}
	if err := ev.Validate(); err != nil {
		return TestEvent{}, err
	}
	return ev, nil
}
