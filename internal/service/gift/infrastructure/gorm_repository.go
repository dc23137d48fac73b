package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"giftgate/internal/pkg/mysql"
	"giftgate/internal/service/gift/domain"
)

// GormGiftRepository 是 port.Gateway 的 MySQL 实现
type GormGiftRepository struct {
	db *gorm.DB
}

// NewGormGiftRepository 创建一个新的 GORM 仓储实例
func NewGormGiftRepository(db *gorm.DB) *GormGiftRepository {
	return &GormGiftRepository{db: db}
}

// AutoMigrate 仅用于本地开发，线上表结构由后台管理系统维护
func (r *GormGiftRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&DeviceModel{}, &ProductModel{}, &TemporaryDataModel{}, &RowDataModel{},
	)
}

func (r *GormGiftRepository) DeviceExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DeviceModel{}).Where("device_id = ?", id).Limit(1).Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "check device %d", id)
	}
	return count > 0, nil
}

func (r *GormGiftRepository) ProductExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ProductModel{}).Where("product_id = ?", id).Limit(1).Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "check product %d", id)
	}
	return count > 0, nil
}

func (r *GormGiftRepository) ListDeviceIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&DeviceModel{}).Pluck("device_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list device ids")
	}
	return ids, nil
}

func (r *GormGiftRepository) ListProductIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&ProductModel{}).Pluck("product_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list product ids")
	}
	return ids, nil
}

// FindQuota 使用 GORM 按手机号查找配额记录
func (r *GormGiftRepository) FindQuota(ctx context.Context, phone string) (*domain.QuotaRecord, error) {
	var model TemporaryDataModel
	err := r.db.WithContext(ctx).Where("phone_number = ?", phone).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrQuotaNotFound
		}
		return nil, errors.Wrapf(err, "find quota for %s", phone)
	}
	return toDomainQuota(&model), nil
}

// GetOrCreateQuota 先查后插；并发插入撞上唯一索引时回退为查询，created=false
func (r *GormGiftRepository) GetOrCreateQuota(ctx context.Context, phone string, initial int) (*domain.QuotaRecord, bool, error) {
	record, err := r.FindQuota(ctx, phone)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, domain.ErrQuotaNotFound) {
		return nil, false, err
	}

	model := TemporaryDataModel{PhoneNumber: phone, GiftNumber: initial}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if mysql.IsDuplicateKey(err) {
			record, err := r.FindQuota(ctx, phone)
			return record, false, err
		}
		return nil, false, errors.Wrapf(err, "create quota for %s", phone)
	}
	return toDomainQuota(&model), true, nil
}

// DecrementQuota 在事务内用 SELECT ... FOR UPDATE 锁住这一行，再做检查与扣减。
// 行锁持有期间其他扣减者阻塞，因此读到的值就是扣减前的真实值。
func (r *GormGiftRepository) DecrementQuota(ctx context.Context, id int64) (bool, int, error) {
	var (
		consumed  bool
		remaining int
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model TemporaryDataModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrQuotaNotFound
			}
			return err
		}

		if model.GiftNumber <= 0 {
			remaining = model.GiftNumber
			return nil
		}

		if err := tx.Model(&TemporaryDataModel{}).
			Where("id = ?", model.ID).
			Update("gift_number", gorm.Expr("gift_number - 1")).Error; err != nil {
			return err
		}
		consumed = true
		remaining = model.GiftNumber - 1
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaNotFound) {
			return false, 0, err
		}
		return false, 0, errors.Wrapf(err, "decrement quota %d", id)
	}
	return consumed, remaining, nil
}

// CreateUsageEvent 写入一条登记流水，并回填自增 ID
func (r *GormGiftRepository) CreateUsageEvent(ctx context.Context, event *domain.UsageEvent) error {
	model := fromDomainUsage(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "create usage event for %s", event.PhoneNumber)
	}
	event.ID = model.ID
	return nil
}
