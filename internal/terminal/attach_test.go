package terminal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/session"
)

type fakeStream struct {
	out    chan []byte
	end    chan error
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		out:    make(chan []byte, 16),
		end:    make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv() ([]byte, error) {
	select {
	case d := <-s.out:
		return d, nil
	case err := <-s.end:
		return nil, err
	case <-s.closed:
		return nil, errors.New("use of closed stream")
	}
}

func (s *fakeStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), frame...))
	return nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) Sizes(t *testing.T) []Size {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Size
	for _, f := range s.sent {
		size, ok, err := DecodeControl(f)
		require.True(t, ok)
		require.NoError(t, err)
		out = append(out, size)
	}
	return out
}

type countingDialer struct {
	stream *fakeStream
	dials  int
}

func (d *countingDialer) Dial(context.Context, string) (Stream, error) {
	d.dials++
	return d.stream, nil
}

func TestAttachWritesOutputToSurface(t *testing.T) {
	stream := newFakeStream()
	surface := NewVTSurface(40, 5)
	got := make(chan int, 4)
	a, err := Attach(context.Background(), &countingDialer{stream: stream}, "s1", surface, Options{
		OnOutput: func(n int) { got <- n },
	})
	require.NoError(t, err)
	defer a.Close()

	stream.out <- []byte("building...\r\n")
	stream.out <- []byte("done")
	<-got
	<-got
	assert.Equal(t, []string{"building...", "done"}, surface.Lines())
}

func TestAttachInitialSize(t *testing.T) {
	stream := newFakeStream()
	surface := NewVTSurface(10, 10)
	a, err := Attach(context.Background(), &countingDialer{stream: stream}, "s1", surface, Options{
		Size: Size{Cols: 100, Rows: 30},
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []Size{{100, 30}}, stream.Sizes(t))
	assert.Equal(t, Size{100, 30}, surface.Size())
}

func TestResizeSendsOnlyChanges(t *testing.T) {
	stream := newFakeStream()
	a, err := Attach(context.Background(), &countingDialer{stream: stream}, "s1", &WriterSurface{W: discard{}}, Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Resize(80, 24))
	require.NoError(t, a.Resize(80, 24))
	require.NoError(t, a.Resize(100, 24))
	assert.Error(t, a.Resize(0, 24))

	assert.Equal(t, []Size{{80, 24}, {100, 24}}, stream.Sizes(t))
	assert.Equal(t, Size{100, 24}, a.Size())
}

func TestRefitDoesNotRedial(t *testing.T) {
	stream := newFakeStream()
	dialer := &countingDialer{stream: stream}
	cols, rows := 80, 24
	a, err := Attach(context.Background(), dialer, "s1", &WriterSurface{W: discard{}}, Options{
		Fitter: func() (int, int, error) { return cols, rows, nil },
	})
	require.NoError(t, err)
	defer a.Close()

	cols, rows = 132, 43
	require.NoError(t, a.Refit())
	require.NoError(t, a.Refit())

	assert.Equal(t, 1, dialer.dials)
	assert.Equal(t, []Size{{80, 24}, {132, 43}}, stream.Sizes(t))
}

func TestStreamErrorRecordedNotRetried(t *testing.T) {
	stream := newFakeStream()
	dialer := &countingDialer{stream: stream}
	ended := make(chan error, 1)
	a, err := Attach(context.Background(), dialer, "s1", &WriterSurface{W: discard{}}, Options{
		OnEnd: func(err error) { ended <- err },
	})
	require.NoError(t, err)

	boom := errors.New("connection reset")
	stream.end <- boom
	assert.ErrorIs(t, <-ended, boom)
	<-a.Done()
	assert.ErrorIs(t, a.Err(), boom)
	assert.Equal(t, 1, dialer.dials)
	assert.NoError(t, a.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	a, err := Attach(context.Background(), &countingDialer{stream: stream}, "s1", &WriterSurface{W: discard{}}, Options{
		OnEnd: func(error) { t.Error("close must not report a stream end") },
	})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	<-a.Done()
	assert.NoError(t, a.Err())
	assert.ErrorIs(t, a.Resize(10, 10), ErrClosed)
}

func TestParentCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := Attach(ctx, &countingDialer{stream: newFakeStream()}, "s1", &WriterSurface{W: discard{}}, Options{})
	require.NoError(t, err)
	cancel()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("attachment outlived its context")
	}
}

func TestDialError(t *testing.T) {
	dialer := DialerFunc(func(context.Context, string) (Stream, error) {
		return nil, client.ErrNotFound
	})
	_, err := Attach(context.Background(), dialer, "s1", &WriterSurface{W: discard{}}, Options{})
	assert.ErrorIs(t, err, client.ErrNotFound)
}

type statusFunc func(ctx context.Context, id string) (client.StatusReport, error)

func (f statusFunc) Status(ctx context.Context, id string) (client.StatusReport, error) {
	return f(ctx, id)
}

func TestReconcileWritesTable(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	table := session.NewTable()
	require.NoError(t, table.Put(&session.Session{ID: "s1", Status: session.Starting}))

	status := statusFunc(func(context.Context, string) (client.StatusReport, error) {
		return client.StatusReport{
			Status:       session.Started,
			Integrations: map[string]string{"url": "https://s1.preview.test"},
		}, nil
	})
	reconciled := make(chan client.StatusReport, 1)
	a, err := Attach(context.Background(), &countingDialer{stream: newFakeStream()}, "s1", &WriterSurface{W: discard{}}, Options{
		Status:            status,
		Table:             table,
		Clock:             fake,
		ReconcileInterval: 10 * time.Second,
		OnReconcile:       func(r client.StatusReport) { reconciled <- r },
	})
	require.NoError(t, err)

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)
	<-reconciled

	s, _ := table.Get("s1")
	assert.Equal(t, session.Started, s.Status)
	assert.Equal(t, "https://s1.preview.test", s.Integrations["url"])

	require.NoError(t, a.Close())
	assert.Equal(t, 0, fake.Pending(), "close cancels the reconcile ticker")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Over a real WebSocket: output arrives, resize frames reach the server
// with the marker intact.
func TestAttachOverWebSocket(t *testing.T) {
	controls := make(chan Size, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte("$ npm start\r\n"))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if size, ok, err := DecodeControl(data); ok && err == nil {
				controls <- size
			}
		}
	}))
	defer srv.Close()

	sc := client.NewStreamClient(srv.URL, "")
	dialer := DialerFunc(func(ctx context.Context, id string) (Stream, error) {
		return sc.Dial(ctx, id)
	})
	surface := NewVTSurface(40, 4)
	output := make(chan int, 1)
	a, err := Attach(context.Background(), dialer, "s1", surface, Options{
		Size:     Size{Cols: 40, Rows: 4},
		OnOutput: func(n int) { output <- n },
	})
	require.NoError(t, err)
	defer a.Close()

	select {
	case <-output:
	case <-time.After(2 * time.Second):
		t.Fatal("no output")
	}
	assert.Equal(t, "$ npm start", surface.Lines()[0])

	select {
	case size := <-controls:
		assert.Equal(t, Size{40, 4}, size)
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no control frame")
	}
}
