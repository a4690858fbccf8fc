//go:build !unix

package terminal

import "os"

// Windows has no resize signal; callers refit on their own events.
func notifyResize(chan<- os.Signal) {}
