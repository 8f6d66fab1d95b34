package storage

import (
	"fmt"
	"os"
)

// defaultAbort is the no-callback fallback: print a diagnostic and
// terminate, matching the source's behavior when the caller installs no
// error handler.
func defaultAbort(err error) {
	fmt.Fprintf(os.Stderr, "storage: fatal: %v\n", err)
	os.Exit(1)
}
