// internal/service/gift/domain/usage.go
package domain

import "time"

// UsageEvent 是一次被接受的登记 (手机号 + 终端 + 商品)，只追加不修改
type UsageEvent struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	DeviceID    int64     `json:"device_id"`
	ProductID   int64     `json:"product_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUsageEvent 工厂函数，创建时间由调用方决定以便测试
func NewUsageEvent(phone string, deviceID, productID int64, now time.Time) (*UsageEvent, error) {
	if phone == "" {
		return nil, ErrEmptyPhone
	}
	return &UsageEvent{
		PhoneNumber: phone,
		DeviceID:    deviceID,
		ProductID:   productID,
		CreatedAt:   now,
	}, nil
}
