package application

import (
	"context"

	"giftgate/internal/pkg/metrics"
	"giftgate/internal/service/gift/domain/port"
)

// QuotaLedger 是唯一修改剩余次数的入口。
// 检查与扣减的原子性由存储层保证 (行锁、Lua 脚本或互斥锁)，这里只负责计量。
type QuotaLedger struct {
	repo    port.QuotaRepository
	metrics *metrics.Metrics
}

func NewQuotaLedger(repo port.QuotaRepository, m *metrics.Metrics) *QuotaLedger {
	return &QuotaLedger{repo: repo, metrics: m}
}

// Consume 剩余为 0 时不修改并返回 consumed=false；否则减一并返回扣减后的值
func (l *QuotaLedger) Consume(ctx context.Context, recordID int64) (consumed bool, remaining int, err error) {
	consumed, remaining, err = l.repo.DecrementQuota(ctx, recordID)
	if err != nil {
		return false, 0, err
	}
	if consumed {
		l.metrics.QuotaConsumed()
	}
	return consumed, remaining, nil
}
