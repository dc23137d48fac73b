package infrastructure

import (
	"time"

	"giftgate/internal/service/gift/domain"
)

// DeviceModel 对应后台管理库中的 home_device 表，本服务只读
type DeviceModel struct {
	DeviceID   int64  `gorm:"column:device_id;primaryKey;autoIncrement:false"`
	DeviceName string `gorm:"column:device_name;size:255"`
}

// TableName 指定 GORM 应该使用的表名
func (DeviceModel) TableName() string {
	return "home_device"
}

// ProductModel 对应 home_product 表，本服务只读
type ProductModel struct {
	ProductID   int64  `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	ProductName string `gorm:"column:product_name;size:255"`
}

func (ProductModel) TableName() string {
	return "home_product"
}

// TemporaryDataModel 是配额账本，phone_number 唯一
type TemporaryDataModel struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	PhoneNumber string `gorm:"column:phone_number;size:32;uniqueIndex"`
	GiftNumber  int    `gorm:"column:gift_number;not null;default:0"`
}

func (TemporaryDataModel) TableName() string {
	return "home_temprorydata"
}

// RowDataModel 是登记流水，只追加
type RowDataModel struct {
	ID              int64     `gorm:"column:id;primaryKey"`
	PhoneNumber     string    `gorm:"column:phone_number;size:32;index"`
	DeviceID        int64     `gorm:"column:device_id_id;index"`
	ProductID       int64     `gorm:"column:product_id_id;index"`
	DatetimeCreated time.Time `gorm:"column:datetime_created"`
}

func (RowDataModel) TableName() string {
	return "home_rowdata"
}

func toDomainQuota(model *TemporaryDataModel) *domain.QuotaRecord {
	if model == nil {
		return nil
	}
	return &domain.QuotaRecord{
		ID:          model.ID,
		PhoneNumber: model.PhoneNumber,
		GiftNumber:  model.GiftNumber,
	}
}

func fromDomainUsage(event *domain.UsageEvent) *RowDataModel {
	return &RowDataModel{
		PhoneNumber:     event.PhoneNumber,
		DeviceID:        event.DeviceID,
		ProductID:       event.ProductID,
		DatetimeCreated: event.CreatedAt,
	}
}
