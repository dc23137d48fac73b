// internal/service/gift/domain/quota.go
package domain

// QuotaRecord 记录一个手机号剩余的赠品次数。
// GiftNumber 只能通过原子扣减修改，核心逻辑从不删除记录。
type QuotaRecord struct {
	ID          int64
	PhoneNumber string
	GiftNumber  int
}

// InitialGiftNumber 返回首次登记时写入的剩余次数: 创建本身就算用掉了一次
func InitialGiftNumber(maxGift int) int {
	if maxGift < 1 {
		return 0
	}
	return maxGift - 1
}

// HasQuota 判断是否还有剩余次数
func (q *QuotaRecord) HasQuota() bool {
	return q.GiftNumber > 0
}
