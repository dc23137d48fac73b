package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"giftgate/internal/pkg/logger"
	"giftgate/internal/service/gift/domain"
	"giftgate/internal/service/gift/domain/port"
)

// GiftApplicationService 编排 ping / 查询 / 登记 三个用例，
// 每个用例只返回写回终端的状态码，错误在这里被记录并折算成 400。
type GiftApplicationService struct {
	quotas    port.QuotaRepository
	usages    port.UsageRepository
	publisher port.UsagePublisher
	cache     *ReferenceCache
	ledger    *QuotaLedger
	maxGift   int
	tracer    trace.Tracer
	now       func() time.Time
}

func NewGiftApplicationService(quotas port.QuotaRepository, usages port.UsageRepository, publisher port.UsagePublisher, cache *ReferenceCache, ledger *QuotaLedger, maxGift int, tracer trace.Tracer) *GiftApplicationService {
	return &GiftApplicationService{
		quotas: quotas, usages: usages, publisher: publisher,
		cache: cache, ledger: ledger, maxGift: maxGift,
		tracer: tracer, now: time.Now,
	}
}

// Ping 终端心跳。未知终端不回任何字节，终端据此判断自己没有被登记。
func (s *GiftApplicationService) Ping(ctx context.Context, deviceID int64) domain.Status {
	ctx, span := s.tracer.Start(ctx, "gift.Ping", trace.WithAttributes(attribute.Int64("device.id", deviceID)))
	defer span.End()

	if !s.cache.IsKnownDevice(ctx, deviceID) {
		span.AddEvent("unknown device")
		return domain.StatusSilent
	}
	return domain.StatusPong
}

// CheckQuota 查询手机号是否还能领取。没有记录视为还能领取。
func (s *GiftApplicationService) CheckQuota(ctx context.Context, phone string) domain.Status {
	ctx, span := s.tracer.Start(ctx, "gift.CheckQuota", trace.WithAttributes(attribute.String("phone", phone)))
	defer span.End()

	record, err := s.quotas.FindQuota(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaNotFound) {
			return domain.StatusOK
		}
		s.fail(ctx, span, err, "find quota failed")
		return domain.StatusBadRequest
	}
	if !record.HasQuota() {
		return domain.StatusQuotaExceeded
	}
	return domain.StatusOK
}

// Register 登记一次领取。
// 首次出现的手机号直接以 maxGift-1 建档，本次不再扣减；
// 已有记录先原子扣减再校验终端和商品，校验失败返回 404 且不退还。
func (s *GiftApplicationService) Register(ctx context.Context, phone string, deviceID, productID int64) domain.Status {
	ctx, span := s.tracer.Start(ctx, "gift.Register", trace.WithAttributes(
		attribute.String("phone", phone),
		attribute.Int64("device.id", deviceID),
		attribute.Int64("product.id", productID),
	))
	defer span.End()

	record, created, err := s.quotas.GetOrCreateQuota(ctx, phone, domain.InitialGiftNumber(s.maxGift))
	if err != nil {
		s.fail(ctx, span, err, "get or create quota failed")
		return domain.StatusBadRequest
	}
	span.SetAttributes(attribute.Bool("quota.created", created))

	if !created {
		consumed, remaining, err := s.ledger.Consume(ctx, record.ID)
		if err != nil {
			s.fail(ctx, span, err, "consume quota failed")
			return domain.StatusBadRequest
		}
		if !consumed {
			return domain.StatusQuotaExceeded
		}
		span.SetAttributes(attribute.Int("quota.remaining", remaining))
	}

	// 两个都查，未命中的 id 都会被回源
	deviceOK := s.cache.IsKnownDevice(ctx, deviceID)
	productOK := s.cache.IsKnownProduct(ctx, productID)
	if !deviceOK || !productOK {
		if !created {
			logger.Ctx(ctx).Warn().
				Str("phone", phone).
				Int64("device_id", deviceID).
				Int64("product_id", productID).
				Msg("quota consumed but reference unknown, not refunded")
		}
		return domain.StatusNotFound
	}

	event, err := domain.NewUsageEvent(phone, deviceID, productID, s.now())
	if err != nil {
		s.fail(ctx, span, err, "build usage event failed")
		return domain.StatusBadRequest
	}
	if err := s.usages.CreateUsageEvent(ctx, event); err != nil {
		s.fail(ctx, span, err, "create usage event failed")
		return domain.StatusBadRequest
	}

	if err := s.publisher.PublishUsage(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("usage_id", event.ID).Msg("publish usage event failed")
	}
	return domain.StatusOK
}

func (s *GiftApplicationService) fail(ctx context.Context, span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Ctx(ctx).Error().Err(err).Msg(msg)
}
