package terminal

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/term"
)

// TermFitter reports the size of the terminal on fd.
func TermFitter(fd int) Fitter {
	return func() (int, int, error) {
		return term.GetSize(fd)
	}
}

// WatchWindow refits a whenever the controlling terminal window changes
// size, until ctx is cancelled or a is closed. The returned func removes
// the listener and waits for it to exit.
func WatchWindow(ctx context.Context, a *Attachment) (stop func()) {
	sig := make(chan os.Signal, 1)
	notifyResize(sig)

	ctx, cancel := context.WithCancel(ctx)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.Done():
				return
			case <-sig:
				if err := a.Refit(); err != nil {
					a.log.Debug().Err(err).Msg("refit failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-exited
	}
}
