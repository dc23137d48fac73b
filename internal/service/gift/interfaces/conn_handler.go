package interfaces

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"giftgate/internal/pkg/logger"
	"giftgate/internal/pkg/metrics"
	"giftgate/internal/service/gift/domain"
)

const maxLineBytes = 64 * 1024

// GiftService 是连接处理器依赖的用例集合，由 application.GiftApplicationService 实现
type GiftService interface {
	Ping(ctx context.Context, deviceID int64) domain.Status
	CheckQuota(ctx context.Context, phone string) domain.Status
	Register(ctx context.Context, phone string, deviceID, productID int64) domain.Status
}

// ConnHandler 在一条 TCP 连接上按顺序处理请求行，每行最多一个回复
type ConnHandler struct {
	svc         GiftService
	metrics     *metrics.Metrics
	idleTimeout time.Duration
}

// NewConnHandler idleTimeout 为 0 表示不设置读超时
func NewConnHandler(svc GiftService, m *metrics.Metrics, idleTimeout time.Duration) *ConnHandler {
	return &ConnHandler{svc: svc, metrics: m, idleTimeout: idleTimeout}
}

// Serve 处理一条连接直到对端关闭、读出错或 draining 被关闭。
// 任何 panic 只会关闭这一条连接。
func (h *ConnHandler) Serve(ctx context.Context, conn net.Conn, draining <-chan struct{}) {
	l := logger.Ctx(ctx).With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	ctx = l.WithContext(ctx)

	h.metrics.ConnOpened()
	l.Info().Msg("[NEW CONNECTION] connected")

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("[ERROR] connection handler panicked")
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.Warn().Err(err).Msg("[WARN] connection closed unexpectedly")
		}
		h.metrics.ConnClosed()
		l.Info().Msg("[CLOSED] connection closed")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for {
		select {
		case <-draining:
			return
		default:
		}
		if h.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}
		if !scanner.Scan() {
			h.logReadEnd(&l, scanner.Err())
			return
		}

		req := ParseRequest(scanner.Text())
		status := h.dispatch(ctx, req)
		h.metrics.ObserveRequest(req.Label(), status.String())

		if reply := status.Line(); reply != nil {
			if _, err := conn.Write(reply); err != nil {
				l.Warn().Err(err).Msg("[WARN] write reply failed")
				return
			}
		}
	}
}

func (h *ConnHandler) dispatch(ctx context.Context, req Request) domain.Status {
	l := zerolog.Ctx(ctx)
	switch req.Kind {
	case KindPing:
		status := h.svc.Ping(ctx, req.DeviceID)
		l.Info().Int64("device_id", req.DeviceID).Stringer("status", status).Msg("[PING]")
		return status
	case KindCheck:
		status := h.svc.CheckQuota(ctx, req.Phone)
		l.Info().Str("phone", req.Phone).Stringer("status", status).Msg("[GET]")
		return status
	case KindRegister:
		status := h.svc.Register(ctx, req.Phone, req.DeviceID, req.ProductID)
		l.Info().
			Str("phone", req.Phone).
			Int64("device_id", req.DeviceID).
			Int64("product_id", req.ProductID).
			Stringer("status", status).
			Msg("[POST]")
		return status
	case KindInvalid:
		l.Info().Str("phone", req.Phone).Msg("[INVALID] -status 400")
		return domain.StatusBadRequest
	default:
		return domain.StatusSilent
	}
}

func (h *ConnHandler) logReadEnd(l *zerolog.Logger, err error) {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.Is(err, os.ErrDeadlineExceeded):
		l.Info().Msg("read deadline reached")
	default:
		l.Warn().Err(err).Msg("[WARN] read failed")
	}
}
