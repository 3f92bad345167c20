// Command harness-demo is a tiny self-contained test suite. It exists to
// exercise the harness end to end against a real reporter, locally or
// through a socket when the listener environment variables are set.
package main

import (
	"strings"

	"github.com/crossrun/crossrun/pkg/harness"
)

func main() {
	harness.RunTests(func(h *harness.TestHarness) {
		h.Group("strings", 2, func() {
			h.Test("upper", func() {
				if strings.ToUpper("crossrun") != "CROSSRUN" {
					panic("upper-casing went wrong")
				}
			})
			h.Test("fields", func() {
				if len(strings.Fields("a b c")) != 3 {
					panic("field splitting went wrong")
				}
			})
		})

		h.Test("top-level", func() {})
	})
}
