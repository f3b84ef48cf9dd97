package relay

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/catalog-chat/pkg/localmode"
	"github.com/go-go-golems/catalog-chat/pkg/threadstore"
	"github.com/go-go-golems/catalog-chat/pkg/turnbus"
)

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	bus, err := turnbus.New(turnbus.Settings{})
	require.NoError(t, err)
	store := threadstore.NewInMemoryStore()
	svc := newTestService(t, WithThreadStore(store), WithTurnPublisher(bus))
	r, err := NewRouter(svc)
	require.NoError(t, err)

	rec := &closeRecorder{}
	srv, err := NewServer("127.0.0.1:0", r, WithTurnBus(bus, turnbus.NewAuditor(bus, nil)), WithCloser(rec))
	require.NoError(t, err)
	require.Zero(t, srv.HTTPServer().WriteTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.True(t, rec.closed)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer_ClosesResourcesWhenShutdownTimesOut(t *testing.T) {
	bus, err := turnbus.New(turnbus.Settings{})
	require.NoError(t, err)
	g, err := localmode.NewGenerator(
		localmode.WithCadence(50*time.Millisecond),
		localmode.WithResponses([]string{"a reply long enough to outlive the shutdown timeout"}),
	)
	require.NoError(t, err)
	svc, err := NewService(WithLocalMode(g), WithTurnPublisher(bus))
	require.NoError(t, err)
	r, err := NewRouter(svc)
	require.NoError(t, err)

	addr := freeAddr(t)
	rec := &closeRecorder{}
	srv, err := NewServer(addr, r,
		WithTurnBus(bus, turnbus.NewAuditor(bus, nil)),
		WithCloser(rec),
		withShutdownTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/unknown")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// an open run stream keeps Shutdown from finishing in time
	resp, err := http.Post(base+"/api/threads/local_x/runs", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.True(t, rec.closed)
}

func TestNewServer_RequiresRouter(t *testing.T) {
	_, err := NewServer(":0", nil)
	require.Error(t, err)
}
