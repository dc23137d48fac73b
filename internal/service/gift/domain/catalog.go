// internal/service/gift/domain/catalog.go
package domain

// DeviceRef 是目录中的一台售货终端，核心逻辑只关心它是否存在
type DeviceRef struct {
	ID   int64
	Name string
}

// ProductRef 是目录中的一个商品
type ProductRef struct {
	ID   int64
	Name string
}
