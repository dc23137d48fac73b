package application

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"giftgate/internal/pkg/logger"
	"giftgate/internal/pkg/metrics"
	"giftgate/internal/service/gift/domain/port"
)

const (
	kindDevice  = "device"
	kindProduct = "product"
)

// ReferenceCache 在内存中保存终端和商品 id 集合。
// 全量刷新整体替换集合；两次刷新之间只会通过单点回源增长，不会收缩。
type ReferenceCache struct {
	catalog port.CatalogRepository
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	devices     map[int64]struct{}
	products    map[int64]struct{}
	lastRefresh time.Time

	// refreshMu 串行化全量扫描，扫描期间不持有 mu，查询不受影响
	refreshMu sync.Mutex
	lookups   singleflight.Group
}

func NewReferenceCache(catalog port.CatalogRepository, ttl time.Duration, m *metrics.Metrics) *ReferenceCache {
	return &ReferenceCache{
		catalog:  catalog,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
		devices:  make(map[int64]struct{}),
		products: make(map[int64]struct{}),
	}
}

// Refresh 全量重建缓存。非强制且未过期时直接返回；
// 等锁期间如果别人已经刷新过，也直接返回。失败时保留旧内容。
func (c *ReferenceCache) Refresh(ctx context.Context, force bool) error {
	requested := c.now()
	if !force && c.fresh(requested) {
		return nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	last := c.lastRefresh
	c.mu.RUnlock()
	if last.After(requested) {
		return nil
	}
	if !force && c.fresh(c.now()) {
		return nil
	}

	devices, err := c.catalog.ListDeviceIDs(ctx)
	if err != nil {
		c.refreshFailed(ctx, err)
		return err
	}
	products, err := c.catalog.ListProductIDs(ctx)
	if err != nil {
		c.refreshFailed(ctx, err)
		return err
	}

	deviceSet := make(map[int64]struct{}, len(devices))
	for _, id := range devices {
		deviceSet[id] = struct{}{}
	}
	productSet := make(map[int64]struct{}, len(products))
	for _, id := range products {
		productSet[id] = struct{}{}
	}

	c.mu.Lock()
	c.devices = deviceSet
	c.products = productSet
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.metrics.CacheRefreshed(true, len(deviceSet), len(productSet))
	logger.Ctx(ctx).Info().
		Int("devices", len(deviceSet)).
		Int("products", len(productSet)).
		Msg("[CACHE] Refreshed")
	return nil
}

func (c *ReferenceCache) refreshFailed(ctx context.Context, err error) {
	c.metrics.CacheRefreshed(false, 0, 0)
	logger.Ctx(ctx).Error().Err(err).Msg("[CACHE] Refresh failed")
}

func (c *ReferenceCache) fresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.ttl
}

// IsKnownDevice 判断终端是否存在，未命中时按 刷新 → 复查 → 单点回源 的顺序确认
func (c *ReferenceCache) IsKnownDevice(ctx context.Context, id int64) bool {
	return c.ensure(ctx, kindDevice, id)
}

// IsKnownProduct 同 IsKnownDevice
func (c *ReferenceCache) IsKnownProduct(ctx context.Context, id int64) bool {
	return c.ensure(ctx, kindProduct, id)
}

func (c *ReferenceCache) ensure(ctx context.Context, kind string, id int64) bool {
	if c.contains(kind, id) {
		return true
	}
	// Refresh 内部已记录失败日志，这里只关心刷新后的内容
	_ = c.Refresh(ctx, false)
	if c.contains(kind, id) {
		return true
	}

	key := kind + ":" + strconv.FormatInt(id, 10)
	// 合并后的回源由所有等待者共享，不能跟随第一个调用方的连接一起取消
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := c.lookups.Do(key, func() (interface{}, error) {
		if kind == kindDevice {
			return c.catalog.DeviceExists(lookupCtx, id)
		}
		return c.catalog.ProductExists(lookupCtx, id)
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("kind", kind).Int64("id", id).Msg("[CACHE] point lookup failed")
		return false
	}
	if !v.(bool) {
		return false
	}

	c.mu.Lock()
	set := c.set(kind)
	_, had := set[id]
	set[id] = struct{}{}
	c.mu.Unlock()
	if !had {
		c.metrics.CacheBackfilled(kind)
	}
	return true
}

func (c *ReferenceCache) contains(kind string, id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set(kind)[id]
	return ok
}

// set 调用方必须持有 mu
func (c *ReferenceCache) set(kind string) map[int64]struct{} {
	if kind == kindDevice {
		return c.devices
	}
	return c.products
}

// Ready 至少成功刷新过一次
func (c *ReferenceCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastRefresh.IsZero()
}

// Size 返回当前缓存的终端数和商品数
func (c *ReferenceCache) Size() (devices, products int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices), len(c.products)
}

// RunRefresher 每隔 ttl 强制刷新一次，直到 ctx 结束
func (c *ReferenceCache) RunRefresher(ctx context.Context) error {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// 失败已在 Refresh 中记录，等下一轮
			_ = c.Refresh(ctx, true)
		}
	}
}
