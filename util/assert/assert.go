// Package assert implements invariant checks for conditions that the rest of
// razed treats as "should be impossible". Tripping one means a core
// invariant was violated; rather than risk corrupting the ledger the process
// aborts, matching the fatal-error policy described for internal invariant
// violations.
package assert

import "fmt"

// Assert panics with the given message if cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
