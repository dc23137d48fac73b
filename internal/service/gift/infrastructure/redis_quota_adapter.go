package infrastructure

import (
	"context"
	"fmt"
	"strconv"

	"giftgate/internal/pkg/redis"
	"giftgate/internal/service/gift/domain"
)

const (
	findQuotaScriptName        = "gift_find_quota"
	getOrCreateQuotaScriptName = "gift_get_or_create_quota"
	consumeQuotaScriptName     = "gift_consume_quota"

	// 所有 key 共用 {quota} hash tag，集群模式下落在同一个 slot，脚本里拼出来的 key 也合法
	quotaSeqKey         = "gift:{quota}:seq"
	quotaPhoneKeyPrefix = "gift:{quota}:phone:"
	quotaCountKeyPrefix = "gift:{quota}:count:"
)

// RedisQuotaAdapter 是 port.QuotaRepository 的 Redis 实现。
// 读取与扣减都在 Lua 脚本里完成，Redis 单线程执行脚本，天然不可分割。
type RedisQuotaAdapter struct {
	redisClient *redis.Client
}

// NewRedisQuotaAdapter 创建适配器，并在创建时加载所有需要的 Lua 脚本
func NewRedisQuotaAdapter(redisClient *redis.Client) (*RedisQuotaAdapter, error) {
	scripts := map[string]string{
		findQuotaScriptName:        findQuotaScript,
		getOrCreateQuotaScriptName: getOrCreateQuotaScript,
		consumeQuotaScriptName:     consumeQuotaScript,
	}
	for name, content := range scripts {
		if err := redisClient.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load quota script: %w", err)
		}
	}
	return &RedisQuotaAdapter{redisClient: redisClient}, nil
}

func (a *RedisQuotaAdapter) FindQuota(ctx context.Context, phone string) (*domain.QuotaRecord, error) {
	result, err := a.redisClient.RunScript(ctx, findQuotaScriptName,
		[]string{quotaPhoneKeyPrefix + phone}, quotaCountKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("quota adapter failed to run find script: %w", err)
	}
	values, err := int64Slice(result)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrQuotaNotFound
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected find result length %d", len(values))
	}
	return &domain.QuotaRecord{ID: values[0], PhoneNumber: phone, GiftNumber: int(values[1])}, nil
}

func (a *RedisQuotaAdapter) GetOrCreateQuota(ctx context.Context, phone string, initial int) (*domain.QuotaRecord, bool, error) {
	result, err := a.redisClient.RunScript(ctx, getOrCreateQuotaScriptName,
		[]string{quotaPhoneKeyPrefix + phone, quotaSeqKey}, quotaCountKeyPrefix, initial)
	if err != nil {
		return nil, false, fmt.Errorf("quota adapter failed to run get-or-create script: %w", err)
	}
	values, err := int64Slice(result)
	if err != nil {
		return nil, false, err
	}
	if len(values) != 3 {
		return nil, false, fmt.Errorf("unexpected get-or-create result length %d", len(values))
	}
	record := &domain.QuotaRecord{ID: values[0], PhoneNumber: phone, GiftNumber: int(values[1])}
	return record, values[2] == 1, nil
}

func (a *RedisQuotaAdapter) DecrementQuota(ctx context.Context, id int64) (bool, int, error) {
	result, err := a.redisClient.RunScript(ctx, consumeQuotaScriptName,
		[]string{quotaCountKeyPrefix + strconv.FormatInt(id, 10)})
	if err != nil {
		return false, 0, fmt.Errorf("quota adapter failed to run consume script: %w", err)
	}
	values, err := int64Slice(result)
	if err != nil {
		return false, 0, err
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected consume result length %d", len(values))
	}

	switch values[0] {
	case 1:
		return true, int(values[1]), nil
	case 0:
		return false, int(values[1]), nil
	case -1:
		return false, 0, domain.ErrQuotaNotFound
	default:
		return false, 0, fmt.Errorf("unknown result code from consume script: %d", values[0])
	}
}

func int64Slice(result interface{}) ([]int64, error) {
	raw, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	out := make([]int64, len(raw))
	for i, v := range raw {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected element type from Lua script: %T", v)
		}
		out[i] = n
	}
	return out, nil
}

var findQuotaScript = `
-- KEYS[1]: 手机号索引, 例如: gift:{quota}:phone:+98912...
-- ARGV[1]: 计数器 key 前缀

local id = redis.call('get', KEYS[1])
if not id then
    return {}
end
local n = redis.call('get', ARGV[1] .. id)
if not n then
    n = '0'
end
return {tonumber(id), tonumber(n)}
`

var getOrCreateQuotaScript = `
-- KEYS[1]: 手机号索引
-- KEYS[2]: 自增序列
-- ARGV[1]: 计数器 key 前缀
-- ARGV[2]: 新建时的初始剩余次数

local id = redis.call('get', KEYS[1])
if id then
    local n = redis.call('get', ARGV[1] .. id)
    if not n then
        n = '0'
    end
    return {tonumber(id), tonumber(n), 0}
end

id = redis.call('incr', KEYS[2])
redis.call('set', KEYS[1], id)
redis.call('set', ARGV[1] .. id, ARGV[2])
return {id, tonumber(ARGV[2]), 1}
`

var consumeQuotaScript = `
-- KEYS[1]: 计数器, 例如: gift:{quota}:count:42
-- 返回 {1, 剩余} 扣减成功; {0, 当前值} 已用完; {-1, 0} 记录不存在

local v = redis.call('get', KEYS[1])
if not v then
    return {-1, 0}
end
local n = tonumber(v)
if n <= 0 then
    return {0, n}
end
local left = redis.call('decr', KEYS[1])
return {1, left}
`
