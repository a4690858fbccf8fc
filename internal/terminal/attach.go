package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/session"
)

const DefaultReconcileInterval = 10 * time.Second

// ErrClosed is returned by operations on a closed Attachment.
var ErrClosed = errors.New("terminal: attachment closed")

// Stream is a duplex frame stream. *client.Stream implements it.
type Stream interface {
	Recv() ([]byte, error)
	Send(frame []byte) error
	Close() error
}

// Dialer opens the stream for a session.
type Dialer interface {
	Dial(ctx context.Context, id string) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, id string) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, id string) (Stream, error) { return f(ctx, id) }

// StatusFetcher supplies the companion reconciliation.
type StatusFetcher interface {
	Status(ctx context.Context, id string) (client.StatusReport, error)
}

// Fitter reports the size the surface should have, typically the size of
// the window it is drawn in.
type Fitter func() (cols, rows int, err error)

type Options struct {
	// Size is applied on attach when no Fitter is set.
	Size   Size
	Fitter Fitter

	// Status and Table enable reconciliation: every ReconcileInterval
	// the session's status and integrations are fetched and written to
	// Table.
	Status            StatusFetcher
	Table             *session.Table
	ReconcileInterval time.Duration

	Clock  clock.Clock
	Logger zerolog.Logger

	// OnOutput is called after each frame is written to the surface.
	OnOutput func(n int)
	// OnReconcile is called after each successful reconciliation.
	OnReconcile func(client.StatusReport)
	// OnEnd is called once when the stream ends for any reason other
	// than Close; err is nil for a clean end of stream.
	OnEnd func(err error)
}

// Attachment is one open stream feeding one surface.
type Attachment struct {
	id      string
	stream  Stream
	surface Surface
	opts    Options
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu     sync.Mutex
	size   Size
	err    error
	closed bool
}

// Attach dials the stream for id and starts copying its output into
// surface. The stream is opened exactly once; it is never re-dialled.
func Attach(ctx context.Context, dialer Dialer, id string, surface Surface, opts Options) (*Attachment, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}

	stream, err := dialer.Dial(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", id, err)
	}

	actx, cancel := context.WithCancel(ctx)
	a := &Attachment{
		id:      id,
		stream:  stream,
		surface: surface,
		opts:    opts,
		log:     opts.Logger.With().Str("session", id).Logger(),
		ctx:     actx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	switch {
	case opts.Fitter != nil:
		if err := a.Refit(); err != nil {
			a.log.Debug().Err(err).Msg("initial fit failed")
		}
	case opts.Size.valid():
		if err := a.Resize(opts.Size.Cols, opts.Size.Rows); err != nil {
			a.log.Debug().Err(err).Msg("initial resize failed")
		}
	}

	a.wg.Add(1)
	go a.pump()
	if opts.Status != nil {
		a.wg.Add(1)
		go a.reconcile()
	}

	// Closing the parent context tears the attachment down.
	go func() {
		<-actx.Done()
		a.Close()
	}()

	a.log.Debug().Msg("stream attached")
	return a, nil
}

// ID returns the attached session.
func (a *Attachment) ID() string { return a.id }

// Done is closed when the stream has ended or the attachment is closed.
func (a *Attachment) Done() <-chan struct{} { return a.done }

// Err returns the error that ended the stream, if any. Errors caused by
// Close are not recorded.
func (a *Attachment) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Size returns the last size sent to the server.
func (a *Attachment) Size() Size {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Resize resizes the surface and tells the server, unless the size is
// unchanged.
func (a *Attachment) Resize(cols, rows int) error {
	frame, err := EncodeResize(cols, rows)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.size.Cols == cols && a.size.Rows == rows {
		a.mu.Unlock()
		return nil
	}
	a.size = Size{Cols: cols, Rows: rows}
	a.mu.Unlock()

	a.surface.Resize(cols, rows)
	if err := a.stream.Send(frame); err != nil {
		return fmt.Errorf("send resize: %w", err)
	}
	a.log.Debug().Int("cols", cols).Int("rows", rows).Msg("resize sent")
	return nil
}

// Refit applies the Fitter's current size. It never re-opens the stream.
func (a *Attachment) Refit() error {
	if a.opts.Fitter == nil {
		return nil
	}
	cols, rows, err := a.opts.Fitter()
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	return a.Resize(cols, rows)
}

// Close stops reconciliation and closes the stream. It waits for the
// attachment's goroutines and is safe to call more than once.
func (a *Attachment) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.wg.Wait()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	err := a.stream.Close()
	a.wg.Wait()
	a.log.Debug().Msg("stream detached")
	return err
}

func (a *Attachment) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Attachment) pump() {
	defer a.wg.Done()
	defer close(a.done)

	for {
		data, err := a.stream.Recv()
		if err != nil {
			if a.isClosed() {
				return
			}
			// Stream errors are not retried; the status poller decides
			// what they mean for the session.
			a.mu.Lock()
			a.err = err
			a.mu.Unlock()
			a.log.Debug().Err(err).Msg("stream ended")
			if a.opts.OnEnd != nil {
				a.opts.OnEnd(err)
			}
			return
		}
		if _, werr := a.surface.Write(data); werr != nil {
			a.log.Debug().Err(werr).Msg("surface write failed")
		}
		if a.opts.OnOutput != nil {
			a.opts.OnOutput(len(data))
		}
	}
}

func (a *Attachment) reconcile() {
	defer a.wg.Done()
	ticker := a.opts.Clock.NewTicker(a.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := a.opts.Status.Status(a.ctx, a.id)
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.log.Debug().Err(err).Msg("reconcile failed")
			continue
		}
		if a.opts.Table != nil {
			_, _ = a.opts.Table.Update(a.id, func(s *session.Session) {
				s.Status = report.Status
				if report.Integrations != nil {
					s.Integrations = report.Integrations
				}
			})
		}
		if a.opts.OnReconcile != nil {
			a.opts.OnReconcile(report)
		}
	}
}
