package harness

// Reporter consumes the test event stream and renders or forwards it.
// Reporters are driven by a single goroutine; implementations do not need
// to be safe for concurrent use.
type Reporter interface {
	// Report consumes one event.
	Report(ev TestEvent)

	// Finish closes out the report and returns the process exit code:
	// zero unless any observed result failed.
	Finish() int
}
