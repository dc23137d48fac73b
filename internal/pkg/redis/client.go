// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的 UniversalClient，并管理预加载的 Lua 脚本
type Client struct {
	client goredis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 根据逗号分隔的地址创建客户端，单地址为普通连接，多地址为集群连接。
func NewClient(addrs, password string, db int) (*Client, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    strings.Split(addrs, ","),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addrs, err)
	}
	return Wrap(client), nil
}

// Wrap 用已有的 go-redis 客户端构造 Client，测试中配合 miniredis 使用
func Wrap(client goredis.UniversalClient) *Client {
	return &Client{
		client:  client,
		scripts: make(map[string]*goredis.Script),
	}
}

// LoadScriptFromContent 注册脚本，并提前 SCRIPT LOAD 以便后续走 EVALSHA
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := script.Load(ctx, c.client).Err(); err != nil {
		return fmt.Errorf("failed to load script %s: %w", name, err)
	}

	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本；脚本缓存被清空时 go-redis 会自动回退到 EVAL
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// GetClient 暴露底层客户端，用于 pipeline 等脚本之外的操作
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
