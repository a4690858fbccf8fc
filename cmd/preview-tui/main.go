// Command preview-tui follows preview sessions from the terminal. With
// --attach it instead streams one session's terminal straight to stdout,
// polling the session alongside and exiting once it fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/agent-racer/preview/internal/app"
	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/config"
	"github.com/agent-racer/preview/internal/engine"
	"github.com/agent-racer/preview/internal/poller"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/terminal"
)

// Detach keys in --attach mode: ctrl+] and ctrl+c.
const (
	keyDetach    = 0x1d
	keyInterrupt = 0x03
)

func main() {
	configPath := pflag.StringP("config", "c", "preview.yaml", "path to config file")
	serverURL := pflag.StringP("url", "u", "", "preview server URL (overrides server.url)")
	token := pflag.String("token", "", "auth token (overrides server.token)")
	logFile := pflag.String("log-file", "", "write logs here (overrides log.file)")
	attach := pflag.String("attach", "", "stream this session's terminal to stdout instead of starting the TUI")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *token != "" {
		cfg.Server.Token = *token
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	logger, closeLog, err := openLog(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	httpClient := client.NewHTTPClient(cfg.Server.URL, cfg.Server.Token)
	streamClient := client.NewStreamClient(cfg.Server.URL, cfg.Server.Token)
	streamClient.PingInterval = cfg.Terminal.PingInterval

	if *attach != "" {
		if err := runAttach(cfg, httpClient, streamClient, *attach, logger); err != nil {
			fmt.Fprintf(os.Stderr, "\r\nError: %v\n", err)
			closeLog()
			os.Exit(1)
		}
		return
	}

	eng := engine.New(httpClient, engine.StreamDialer(streamClient), engine.Options{
		PollInterval:      cfg.Poll.Interval,
		ConfirmAfter:      cfg.Poll.ConfirmAfter,
		ListInterval:      cfg.Poll.ListInterval,
		AgeTick:           cfg.Age.Tick,
		AgeRefresh:        cfg.Age.Refresh,
		WatchInterval:     cfg.Failures.WatchInterval,
		ReconcileInterval: cfg.Terminal.ReconcileInterval,
		NoticeExpiration:  cfg.Notifications.Expiration,
		Logger:            logger,
	})
	eng.Start()

	p := tea.NewProgram(app.New(eng, cfg.Server.URL), tea.WithAltScreen())
	_, err = p.Run()
	eng.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

// openLog writes JSON logs to the configured file. The TUI owns the
// terminal, so without a file logging is discarded.
func openLog(lc config.LogConfig) (zerolog.Logger, func(), error) {
	level, err := lc.ParseLevel()
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	var out io.Writer = io.Discard
	closeFn := func() {}
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closeFn, nil
}

func runAttach(cfg *config.Config, hc *client.HTTPClient, sc *client.StreamClient, id string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := terminal.Options{
		Status:            hc,
		ReconcileInterval: cfg.Terminal.ReconcileInterval,
		Logger:            logger.With().Str("session", id).Logger(),
	}

	in := int(os.Stdin.Fd())
	if term.IsTerminal(in) {
		state, err := term.MakeRaw(in)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(in, state) }()
		opts.Fitter = terminal.TermFitter(int(os.Stdout.Fd()))

		// Raw mode swallows ctrl+c, so detach keys are read by hand.
		go func() {
			buf := make([]byte, 64)
			for {
				n, err := os.Stdin.Read(buf)
				if err != nil {
					return
				}
				for _, b := range buf[:n] {
					if b == keyDetach || b == keyInterrupt {
						stop()
						return
					}
				}
			}
		}()
	}

	if err := hc.Track(ctx, id); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		logger.Debug().Err(err).Msg("track failed")
	} else {
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hc.Untrack(uctx, id)
		}()
	}

	a, err := terminal.Attach(ctx, engine.StreamDialer(sc), id, &terminal.WriterSurface{W: os.Stdout}, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	stopWatch := terminal.WatchWindow(ctx, a)
	defer stopWatch()

	pctx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	ended := make(chan error, 1)
	go func() {
		ended <- superviseAttach(pctx, hc, id, poller.Options{
			Interval:     cfg.Poll.Interval,
			ConfirmAfter: cfg.Poll.ConfirmAfter,
			Logger:       opts.Logger,
		})
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-a.Done():
		return a.Err()
	case err := <-ended:
		return err
	}
}

// superviseAttach polls id until its failure is confirmed or it becomes
// unreachable and returns the reason. It returns nil once ctx is done.
func superviseAttach(ctx context.Context, f poller.Fetcher, id string, opts poller.Options) error {
	var reason error
	opts.OnFailed = func(rec session.FailureRecord) {
		if rec.Session.KillReason != session.KillNone {
			reason = fmt.Errorf("session %s failed: %s", id, rec.Session.KillReason)
			return
		}
		reason = fmt.Errorf("session %s failed (%s)", id, rec.Session.Status)
	}
	opts.OnUnreachable = func(_ string, err error) {
		reason = fmt.Errorf("session %s unreachable: %w", id, err)
	}
	poller.New(id, f, opts).Run(ctx)
	return reason
}
