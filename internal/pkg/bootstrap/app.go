package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// LineServer 是 TCP 行协议服务器需要暴露给启动流程的能力
type LineServer interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// CacheRefresher 是参考缓存需要暴露给启动流程的能力
type CacheRefresher interface {
	Refresh(ctx context.Context, force bool) error
	RunRefresher(ctx context.Context) error
}

// Closer 在所有服务停止后按注册的逆序执行 (tracer、kafka writer、数据库等)
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// AppInfo 包含了启动 gift-server 所需的所有组件。
type AppInfo struct {
	ServiceName     string
	Listener        net.Listener
	Server          LineServer
	Cache           CacheRefresher
	OpsAddr         string                   // 为空时不启动运维 HTTP
	RegisterOps     func(mux *http.ServeMux) // 允许注册 /healthz /metrics 等路由
	ShutdownTimeout time.Duration
	Closers         []Closer
}

// SignalContext 在收到 SIGINT / SIGTERM 时取消
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Run 封装了通用的启动和优雅关停逻辑，阻塞直到 ctx 取消或任一组件出错。
func Run(ctx context.Context, info AppInfo) error {
	// 1. 开始服务前先强制刷新一次缓存，失败只记日志，之后由单点回源兜底
	if err := info.Cache.Refresh(ctx, true); err != nil {
		log.Warn().Err(err).Msg("initial cache refresh failed")
	}

	// 2. 运维 HTTP
	var opsServer *http.Server
	var opsListener net.Listener
	if info.OpsAddr != "" {
		mux := http.NewServeMux()
		if info.RegisterOps != nil {
			info.RegisterOps(mux)
		}
		ln, err := net.Listen("tcp", info.OpsAddr)
		if err != nil {
			_ = info.Listener.Close()
			runClosers(info)
			return err
		}
		opsListener = ln
		opsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return info.Server.Serve(info.Listener)
	})
	g.Go(func() error {
		return info.Cache.RunRefresher(gctx)
	})
	if opsServer != nil {
		g.Go(func() error {
			log.Info().Str("addr", opsListener.Addr().String()).Msg("ops http listening")
			if err := opsServer.Serve(opsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// 3. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("Shutting down service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), info.ShutdownTimeout)
		defer cancel()

		if err := info.Server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down tcp server")
		} else {
			log.Info().Msg("TCP server shut down.")
		}
		if opsServer != nil {
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Error shutting down ops http server")
			}
		}
		return nil
	})

	err := g.Wait()
	runClosers(info)
	if err != nil {
		return err
	}
	log.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return nil
}

func runClosers(info AppInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), info.ShutdownTimeout)
	defer cancel()
	for i := len(info.Closers) - 1; i >= 0; i-- {
		c := info.Closers[i]
		if err := c.Close(ctx); err != nil {
			log.Error().Err(err).Str("component", c.Name).Msg("close failed")
			continue
		}
		log.Info().Str("component", c.Name).Msg("closed")
	}
}
