package interfaces

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TCPServer 接受终端连接，每条连接一个 goroutine，accept 循环从不等待处理器
type TCPServer struct {
	handler *ConnHandler

	// baseCtx 只在强制关停时取消，正常排空期间进行中的请求不受影响
	baseCtx    context.Context
	cancelBase context.CancelFunc
	draining   chan struct{}

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

func NewTCPServer(handler *ConnHandler) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		handler:    handler,
		baseCtx:    ctx,
		cancelBase: cancel,
		draining:   make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve 在 ln 上循环 accept，Shutdown 之后返回 nil
func (s *TCPServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("[LISTENING] server is listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// 参照 net/http: 出错后退避重试，避免 fd 耗尽时空转
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			log.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.untrack(conn)
			s.handler.Serve(s.baseCtx, conn, s.draining)
		}()
	}
}

func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *TCPServer) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Addr 返回监听地址，Serve 之前为 nil
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown 停止 accept，让每条连接处理完当前行后退出。
// ctx 到期时强制关闭剩余连接并返回 ctx.Err()。
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.draining)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	}
	// 读超时设为现在，阻塞在读上的连接立即返回，正在处理的请求照常写回
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-ctx.Done():
		s.cancelBase()
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
