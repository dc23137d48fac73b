package bootstrap

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubServer 在 Shutdown 之前一直阻塞在 Serve
type stubServer struct {
	stop     chan struct{}
	once     sync.Once
	serveErr error
}

func newStubServer() *stubServer { return &stubServer{stop: make(chan struct{})} }

func (s *stubServer) Serve(ln net.Listener) error {
	if s.serveErr != nil {
		_ = ln.Close()
		return s.serveErr
	}
	<-s.stop
	return ln.Close()
}

func (s *stubServer) Shutdown(context.Context) error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

type stubCache struct {
	mu     sync.Mutex
	forced int
}

func (c *stubCache) Refresh(_ context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force {
		c.forced++
	}
	return nil
}

func (c *stubCache) RunRefresher(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestRunShutsDownOnCancel(t *testing.T) {
	var (
		mu     sync.Mutex
		closed []string
	)
	closer := func(name string) Closer {
		return Closer{Name: name, Close: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			closed = append(closed, name)
			return nil
		}}
	}

	cache := &stubCache{}
	info := AppInfo{
		ServiceName: "gift-server",
		Listener:    listen(t),
		Server:      newStubServer(),
		Cache:       cache,
		OpsAddr:     "127.0.0.1:0",
		RegisterOps: func(mux *http.ServeMux) {
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})
		},
		ShutdownTimeout: time.Second,
		Closers:         []Closer{closer("tracer"), closer("kafka"), closer("db")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, info) }()

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return cache.forced == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, []string{"db", "kafka", "tracer"}, closed)
}

func TestRunServesOpsRoutes(t *testing.T) {
	opsLn := listen(t)
	opsAddr := opsLn.Addr().String()
	require.NoError(t, opsLn.Close())

	info := AppInfo{
		ServiceName: "gift-server",
		Listener:    listen(t),
		Server:      newStubServer(),
		Cache:       &stubCache{},
		OpsAddr:     opsAddr,
		RegisterOps: func(mux *http.ServeMux) {
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})
		},
		ShutdownTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, info) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	var body string
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + opsAddr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ok", body)
	client.CloseIdleConnections()

	cancel()
	require.NoError(t, <-done)
}

func TestRunReturnsServeError(t *testing.T) {
	srv := newStubServer()
	srv.serveErr = errors.New("accept: too many open files")

	closed := false
	err := Run(context.Background(), AppInfo{
		ServiceName:     "gift-server",
		Listener:        listen(t),
		Server:          srv,
		Cache:           &stubCache{},
		ShutdownTimeout: time.Second,
		Closers: []Closer{{Name: "db", Close: func(context.Context) error {
			closed = true
			return nil
		}}},
	})
	require.Error(t, err)
	assert.True(t, closed)
}
