package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/server"
	"github.com/agent-racer/preview/internal/session"
)

const token = "t0ken"

func setup(t *testing.T) (*server.Store, *server.Hub, *client.HTTPClient, string) {
	t.Helper()
	st := server.NewStore()
	hub := server.NewHub(zerolog.Nop())
	ts := httptest.NewServer(server.New(st, hub, token, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return st, hub, client.NewHTTPClient(ts.URL, token), ts.URL
}

func TestCreateAndStatus(t *testing.T) {
	_, _, c, _ := setup(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, client.CreateRequest{Name: "web", TTL: 600})
	require.NoError(t, err)
	assert.Equal(t, session.Starting, s.Status)

	report, err := c.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, report.Age)

	all, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Empty(t, all[0].Logs)
}

func TestStatusSharedWithCancelledCaller(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"started","age":42}`))
	}))
	t.Cleanup(ts.Close)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	c := client.NewHTTPClient(ts.URL, "")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Status(firstCtx, "s1")
		firstErr <- err
	}()
	<-entered

	type result struct {
		report client.StatusReport
		err    error
	}
	second := make(chan result, 1)
	go func() {
		r, err := c.Status(context.Background(), "s1")
		second <- result{r, err}
	}()
	// Let the second caller join the request in flight.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	unblock()
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, session.Started, r.report.Status)
		assert.Equal(t, 42, r.report.Age)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestNotFound(t *testing.T) {
	_, _, c, _ := setup(t)
	ctx := context.Background()

	_, err := c.Status(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)

	_, err = c.FailedSession(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestUnauthorizedIsNotNotFound(t *testing.T) {
	_, _, _, base := setup(t)
	c := client.NewHTTPClient(base, "wrong")
	_, err := c.ListSessions(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, client.ErrNotFound)
}

func TestLogsSince(t *testing.T) {
	st, _, c, _ := setup(t)
	ctx := context.Background()
	s, _ := st.Create(client.CreateRequest{Name: "web"})
	st.AppendLog(s.ID, session.LevelStdout, "one")
	st.AppendLog(s.ID, session.LevelStdout, "two")

	all, err := c.Logs(ctx, s.ID, "")
	require.NoError(t, err)
	assert.Len(t, all.Entries, 3)

	tail, err := c.Logs(ctx, s.ID, all.Entries[1].ID)
	require.NoError(t, err)
	require.Len(t, tail.Entries, 1)
	assert.Equal(t, "two", tail.Entries[0].Message)
}

func TestFailedSessionsAndAcknowledge(t *testing.T) {
	st, _, c, _ := setup(t)
	ctx := context.Background()
	s, _ := st.Create(client.CreateRequest{Name: "broken"})
	require.NoError(t, st.Update(s.ID, func(sess *session.Session) {
		sess.Status = session.StartFailed
		sess.KillReason = session.KillBuildFailed
	}))

	rec, err := c.FailedSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KillBuildFailed, rec.Session.KillReason)
	assert.False(t, rec.Acknowledged)

	require.NoError(t, c.AcknowledgeFailure(ctx, s.ID))

	list, err := c.FailedSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Acknowledged)
}

func TestTrackUntrack(t *testing.T) {
	st, _, c, _ := setup(t)
	ctx := context.Background()
	s, _ := st.Create(client.CreateRequest{})

	require.NoError(t, c.Track(ctx, s.ID))
	assert.Equal(t, 1, st.Tracked(s.ID))
	require.NoError(t, c.Untrack(ctx, s.ID))
	assert.Equal(t, 0, st.Tracked(s.ID))
	assert.ErrorIs(t, c.Track(ctx, "missing"), client.ErrNotFound)
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/api/sessions/abc/stream"},
		{"https://preview.test/", "wss://preview.test/api/sessions/abc/stream"},
		{"ws://host/base", "ws://host/base/api/sessions/abc/stream"},
	}
	for _, tt := range tests {
		got, err := client.StreamURL(tt.base, "abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	st, hub, _, base := setup(t)
	s, _ := st.Create(client.CreateRequest{Name: "web"})

	sc := client.NewStreamClient(base, token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := sc.Dial(ctx, s.ID)
	require.NoError(t, err)
	defer stream.Close()

	assert.Eventually(t, func() bool { return hub.ViewerCount(s.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Write(s.ID, []byte("hello"))

	data, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Eventually(t, func() bool { return hub.ViewerCount(s.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamDialNotFound(t *testing.T) {
	_, _, _, base := setup(t)
	_, err := client.NewStreamClient(base, token).Dial(context.Background(), "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)
}
