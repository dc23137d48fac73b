// internal/service/gift/domain/port/gateway.go
package port

import (
	"context"

	"giftgate/internal/service/gift/domain"
)

// CatalogRepository 是参考目录 (终端、商品) 的出站端口。
type CatalogRepository interface {
	DeviceExists(ctx context.Context, id int64) (bool, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	ListDeviceIDs(ctx context.Context) ([]int64, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
}

// QuotaRepository 是配额账本的出站端口。
// 计数器只能通过 DecrementQuota 修改，实现必须保证读取与扣减不可分割。
type QuotaRepository interface {
	// FindQuota 按手机号查询，不存在时返回 domain.ErrQuotaNotFound。
	FindQuota(ctx context.Context, phone string) (*domain.QuotaRecord, error)

	// GetOrCreateQuota 不存在时以 initial 创建记录，created 表示本次是否新建。
	GetOrCreateQuota(ctx context.Context, phone string, initial int) (record *domain.QuotaRecord, created bool, err error)

	// DecrementQuota 计数器为 0 时不做修改并返回 consumed=false，
	// 否则减一并返回扣减后的值 (可能为 0)。
	DecrementQuota(ctx context.Context, id int64) (consumed bool, remaining int, err error)
}

// UsageRepository 持久化被接受的登记。
type UsageRepository interface {
	CreateUsageEvent(ctx context.Context, event *domain.UsageEvent) error
}

// UsagePublisher 在登记落库后把事件推给下游 (报表、导出)，失败不影响回复。
type UsagePublisher interface {
	PublishUsage(ctx context.Context, event *domain.UsageEvent) error
}

// Gateway 聚合了核心依赖的全部持久化能力
type Gateway interface {
	CatalogRepository
	QuotaRepository
	UsageRepository
}
