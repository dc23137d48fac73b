package infrastructure

import (
	"context"
	"sort"
	"sync"

	"giftgate/internal/service/gift/domain"
)

// MemoryGiftRepository 是 port.Gateway 的进程内实现，用于本地联调和单测。
// 所有状态由一把互斥锁保护，扣减天然是原子的，但不能跨进程共享。
type MemoryGiftRepository struct {
	mu sync.Mutex

	devices  map[int64]string
	products map[int64]string

	quotas  map[int64]*domain.QuotaRecord
	byPhone map[string]int64
	nextID  int64

	usages []domain.UsageEvent
}

func NewMemoryGiftRepository() *MemoryGiftRepository {
	return &MemoryGiftRepository{
		devices:  make(map[int64]string),
		products: make(map[int64]string),
		quotas:   make(map[int64]*domain.QuotaRecord),
		byPhone:  make(map[string]int64),
	}
}

// AddDevice 模拟后台新增终端
func (r *MemoryGiftRepository) AddDevice(ref domain.DeviceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[ref.ID] = ref.Name
}

func (r *MemoryGiftRepository) RemoveDevice(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// AddProduct 模拟后台新增商品
func (r *MemoryGiftRepository) AddProduct(ref domain.ProductRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[ref.ID] = ref.Name
}

func (r *MemoryGiftRepository) DeviceExists(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	return ok, nil
}

func (r *MemoryGiftRepository) ProductExists(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.products[id]
	return ok, nil
}

func (r *MemoryGiftRepository) ListDeviceIDs(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.devices), nil
}

func (r *MemoryGiftRepository) ListProductIDs(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.products), nil
}

func (r *MemoryGiftRepository) FindQuota(_ context.Context, phone string) (*domain.QuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return nil, domain.ErrQuotaNotFound
	}
	rec := *r.quotas[id]
	return &rec, nil
}

func (r *MemoryGiftRepository) GetOrCreateQuota(_ context.Context, phone string, initial int) (*domain.QuotaRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPhone[phone]; ok {
		rec := *r.quotas[id]
		return &rec, false, nil
	}

	r.nextID++
	rec := &domain.QuotaRecord{ID: r.nextID, PhoneNumber: phone, GiftNumber: initial}
	r.quotas[rec.ID] = rec
	r.byPhone[phone] = rec.ID

	out := *rec
	return &out, true, nil
}

func (r *MemoryGiftRepository) DecrementQuota(_ context.Context, id int64) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.quotas[id]
	if !ok {
		return false, 0, domain.ErrQuotaNotFound
	}
	if rec.GiftNumber <= 0 {
		return false, rec.GiftNumber, nil
	}
	rec.GiftNumber--
	return true, rec.GiftNumber, nil
}

func (r *MemoryGiftRepository) CreateUsageEvent(_ context.Context, event *domain.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = int64(len(r.usages) + 1)
	r.usages = append(r.usages, *event)
	return nil
}

// Usages 返回已写入流水的拷贝
func (r *MemoryGiftRepository) Usages() []domain.UsageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UsageEvent, len(r.usages))
	copy(out, r.usages)
	return out
}

func sortedKeys(m map[int64]string) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
