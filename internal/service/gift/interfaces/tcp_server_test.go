package interfaces

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"

	"giftgate/internal/pkg/metrics"
	"giftgate/internal/service/gift/application"
	"giftgate/internal/service/gift/domain"
	"giftgate/internal/service/gift/infrastructure"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGiftService(t *testing.T, maxGift int) (*application.GiftApplicationService, *infrastructure.MemoryGiftRepository) {
	t.Helper()
	repo := infrastructure.NewMemoryGiftRepository()
	repo.AddDevice(domain.DeviceRef{ID: 3, Name: "lobby"})
	repo.AddProduct(domain.ProductRef{ID: 7, Name: "cola"})

	m := metrics.New(prometheus.NewRegistry())
	cache := application.NewReferenceCache(repo, time.Hour, m)
	require.NoError(t, cache.Refresh(context.Background(), true))

	svc := application.NewGiftApplicationService(repo, repo, infrastructure.NoopUsagePublisher{}, cache,
		application.NewQuotaLedger(repo, m), maxGift, noop.NewTracerProvider().Tracer("test"))
	return svc, repo
}

func startServer(t *testing.T, svc GiftService, idleTimeout time.Duration) *TCPServer {
	t.Helper()
	ln, err := Listen("127.0.0.1:0", 16)
	require.NoError(t, err)

	srv := NewTCPServer(NewConnHandler(svc, nil, idleTimeout))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.NoError(t, <-served)
	})
	return srv
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *TCPServer) *client {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line))
	require.NoError(t, err)
}

func (c *client) reply(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	s, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return s
}

func (c *client) roundTrip(t *testing.T, line string) string {
	t.Helper()
	c.send(t, line)
	return c.reply(t)
}

func TestPingReplies(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 0))

	assert.Equal(t, "pong\r\n", c.roundTrip(t, "ping,3\n"))
	assert.Equal(t, "pong\r\n", c.roundTrip(t, "PING, 3\r\n"))

	// 未知终端和格式错误都不回任何字节，下一条请求的回复紧随其后
	c.send(t, "ping,99\n")
	c.send(t, "ping,abc\n")
	c.send(t, "\n")
	assert.Equal(t, "200\n", c.roundTrip(t, "1,0912\n"))
}

func TestMalformedPingSendsNothing(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 0))

	c.send(t, "ping,abc\n")
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err := c.r.ReadByte()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
}

func TestInvalidRequests(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 0))

	assert.Equal(t, "400\n", c.roundTrip(t, "hello\n"))
	assert.Equal(t, "400\n", c.roundTrip(t, "2,0912,x,7\n"))
	assert.Equal(t, "400\n", c.roundTrip(t, "1\n"))
	// 连接保持可用
	assert.Equal(t, "pong\r\n", c.roundTrip(t, "ping,3\n"))
}

func TestRegisterSequenceOverTCP(t *testing.T) {
	svc, repo := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 0))

	assert.Equal(t, "200\n", c.roundTrip(t, "1,0912\n"))
	assert.Equal(t, "200\n", c.roundTrip(t, "2,0912,3,7\n"))
	assert.Equal(t, "200\n", c.roundTrip(t, "1,0912\n"))
	assert.Equal(t, "200\n", c.roundTrip(t, "2,0912,3,7\n"))
	assert.Equal(t, "403\n", c.roundTrip(t, "1,0912\n"))
	assert.Equal(t, "403\n", c.roundTrip(t, "2,0912,3,7\n"))
	assert.Equal(t, "404\n", c.roundTrip(t, "2,0935,3,99\n"))

	assert.Len(t, repo.Usages(), 2)
}

func TestPipelinedLinesAnsweredInOrder(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 0))

	c.send(t, "2,0912,3,7\n2,0912,3,7\n2,0912,3,7\nping,3\n")
	assert.Equal(t, "200\n", c.reply(t))
	assert.Equal(t, "200\n", c.reply(t))
	assert.Equal(t, "403\n", c.reply(t))
	assert.Equal(t, "pong\r\n", c.reply(t))
}

func TestConcurrentRegistrationsAcrossConnections(t *testing.T) {
	svc, repo := newGiftService(t, 2)
	srv := startServer(t, svc, 0)

	first := dial(t, srv)
	require.Equal(t, "200\n", first.roundTrip(t, "2,0912,3,7\n"))

	const callers = 10
	clients := make([]*client, callers)
	for i := range clients {
		clients[i] = dial(t, srv)
	}

	replies := make([]string, callers)
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *client) {
			defer wg.Done()
			if _, err := c.conn.Write([]byte("2,0912,3,7\n")); err != nil {
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			replies[i], _ = c.r.ReadString('\n')
		}(i, c)
	}
	wg.Wait()

	counts := map[string]int{}
	for _, r := range replies {
		counts[r]++
	}
	assert.Equal(t, 1, counts["200\n"])
	assert.Equal(t, callers-1, counts["403\n"])
	assert.Len(t, repo.Usages(), 2)
}

type panickingService struct{ GiftService }

func (panickingService) CheckQuota(context.Context, string) domain.Status {
	panic("boom")
}

func TestPanicClosesOnlyThatConnection(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	srv := startServer(t, panickingService{GiftService: svc}, 0)

	bad := dial(t, srv)
	good := dial(t, srv)

	bad.send(t, "1,0912\n")
	require.NoError(t, bad.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := bad.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, "pong\r\n", good.roundTrip(t, "ping,3\n"))
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	c := dial(t, startServer(t, svc, 50*time.Millisecond))

	assert.Equal(t, "pong\r\n", c.roundTrip(t, "ping,3\n"))
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestShutdownDrainsIdleConnections(t *testing.T) {
	svc, _ := newGiftService(t, 2)
	ln, err := Listen("127.0.0.1:0", 16)
	require.NoError(t, err)

	srv := NewTCPServer(NewConnHandler(svc, nil, 0))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	c := dial(t, srv)
	assert.Equal(t, "pong\r\n", c.roundTrip(t, "ping,3\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, <-served)

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}
