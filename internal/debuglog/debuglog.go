// Package debuglog prints diagnostics when CHECKBP_DEBUG=1.
package debuglog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	on  = os.Getenv("CHECKBP_DEBUG") == "1"
	out io.Writer = os.Stderr
)

// Enabled reports whether debug output is switched on.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return on
}

// SetOutput redirects debug output and switches it on (w != nil) or off.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	on = w != nil
}

// Logf writes one line prefixed with the component name.
func Logf(component, f string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if !on || out == nil {
		return
	}
	fmt.Fprintf(out, "[%s] "+f+"\n", append([]any{component}, a...)...)
}
