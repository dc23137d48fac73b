package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"giftgate/internal/pkg/mq"
	"giftgate/internal/service/gift/domain"
)

// KafkaUsagePublisher 实现了 port.UsagePublisher，把登记流水推给下游报表。
type KafkaUsagePublisher struct {
	writer mq.MessageWriter
}

// NewKafkaUsagePublisher 创建一个新的流水生产者适配器。
func NewKafkaUsagePublisher(writer mq.MessageWriter) *KafkaUsagePublisher {
	return &KafkaUsagePublisher{writer: writer}
}

// PublishUsage 以手机号为 key 发送，同一手机号的事件落在同一分区
func (p *KafkaUsagePublisher) PublishUsage(ctx context.Context, event *domain.UsageEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(event.PhoneNumber), eventBytes)
}

// Close 关闭底层的 writer (如果它支持关闭)
func (p *KafkaUsagePublisher) Close() error {
	if c, ok := p.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NoopUsagePublisher 在未配置 broker 时使用
type NoopUsagePublisher struct{}

func (NoopUsagePublisher) PublishUsage(context.Context, *domain.UsageEvent) error { return nil }
