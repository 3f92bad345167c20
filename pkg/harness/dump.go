package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
)

// dumpToken brackets one JSON-encoded event embedded in ordinary process
// output. Used where no socket reaches the target, e.g. across an emulator
// boundary without port forwarding.
const dumpToken = "CROSSRUN_TEST_DUMP"

var dumpPattern = regexp.MustCompile(regexp.QuoteMeta(dumpToken) + `\((.*)\)` + regexp.QuoteMeta(dumpToken))

// DumpReporter embeds each event into standard output as a marker line for
// a host-side log reader to scrape.
type DumpReporter struct {
	w io.Writer
}

// NewDumpReporter creates a dump reporter writing marker lines to w.
func NewDumpReporter(w io.Writer) *DumpReporter {
	return &DumpReporter{w: w}
}

func (r *DumpReporter) Report(ev TestEvent) {
	fmt.Fprintln(r.w, FormatDumpLine(ev))
}

// FormatDumpLine renders one event as a marker line that ParseDumpLine can
// recover.
func FormatDumpLine(ev TestEvent) string {
	data, _ := json.Marshal(ev)
	return fmt.Sprintf("%s(%s)%s", dumpToken, data, dumpToken)
}

// Finish always returns zero; the scraping side owns the exit code.
func (r *DumpReporter) Finish() int {
	return 0
}

// ParseDumpLine scans one captured output line for a marker payload and
// decodes it. The second return value reports whether a marker was present;
// a present but undecodable payload is a ProtocolError.
func ParseDumpLine(line string) (TestEvent, bool, error) {
	m := dumpPattern.FindStringSubmatch(line)
	if m == nil {
		return TestEvent{}, false, nil
	}

	var ev TestEvent
	if err := json.Unmarshal([]byte(m[1]), &ev); err != nil {
		return TestEvent{}, true, &ProtocolError{Reason: "decode marker payload", Err: err}
	}
	if err := ev.Validate(); err != nil {
		return TestEvent{}, true, err
	}
	return ev, true, nil
}
