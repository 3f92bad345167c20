package harness

import "fmt"

// EventType discriminates the test lifecycle events.
type EventType string

const (
	// EventBeginGroup opens a named group expecting a number of tests.
	EventBeginGroup EventType = "begin_group"
	// EventEndGroup closes the innermost open group of the same name.
	EventEndGroup EventType = "end_group"
	// EventResult reports the outcome of a single test.
	EventResult EventType = "result"
	// EventEnd terminates the stream and carries the total test count.
	EventEnd EventType = "end"
)

// TestStatus is the outcome of one test.
type TestStatus string

const (
	StatusSuccess TestStatus = "success"
	StatusFailed  TestStatus = "failed"
	StatusIgnored TestStatus = "ignored"
)

// TestResult is the outcome of a single test invocation.
type TestResult struct {
	Name    string     `json:"name"`
	Status  TestStatus `json:"status"`
	Failure string     `json:"failure"`
}

// TestEvent is one event in the test lifecycle stream. Events form a
// well-nested sequence: every BeginGroup is closed by an EndGroup with the
// same name at the same depth, Results occur between them or at top level,
// and exactly one End event is emitted, always last.
type TestEvent struct {
	Type EventType `json:"type"`

	// Name is set for begin_group and end_group events.
	Name string `json:"name,omitempty"`

	// Count is the expected test count for begin_group and the total test
	// count for end.
	Count int `json:"count,omitempty"`

	// Result is set for result events.
	Result *TestResult `json:"result,omitempty"`
}

// BeginGroup builds a begin_group event.
func BeginGroup(name string, count int) TestEvent {
	return TestEvent{Type: EventBeginGroup, Name: name, Count: count}
}

// EndGroup builds an end_group event.
func EndGroup(name string) TestEvent {
	return TestEvent{Type: EventEndGroup, Name: name}
}

// Result builds a result event.
func Result(name string, status TestStatus, failure string) TestEvent {
	return TestEvent{Type: EventResult, Result: &TestResult{Name: name, Status: status, Failure: failure}}
}

// End builds the terminal end event.
func End(count int) TestEvent {
	return TestEvent{Type: EventEnd, Count: count}
}

// Validate reports whether the event is one of the known variants with the
// fields its variant requires.
func (ev TestEvent) Validate() error {
	switch ev.Type {
	case EventBeginGroup, EventEndGroup:
		if ev.Name == "" {
			return &ProtocolError{Reason: fmt.Sprintf("%s event without a group name", ev.Type)}
		}
	case EventResult:
		if ev.Result == nil {
			return &ProtocolError{Reason: "result event without a result"}
		}
	case EventEnd:
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
	return nil
}
