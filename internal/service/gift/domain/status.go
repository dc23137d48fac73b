// internal/service/gift/domain/status.go
package domain

// Status 是写回终端的状态码，协议里没有任何 body
type Status string

const (
	StatusOK            Status = "200"
	StatusBadRequest    Status = "400"
	StatusQuotaExceeded Status = "403"
	StatusNotFound      Status = "404"
	StatusPong          Status = "pong"

	// StatusSilent 表示这一行不回任何字节
	StatusSilent Status = ""
)

// Line 返回带行结束符的回复。pong 用 CRLF，串口终端依赖它判断行尾。
func (s Status) Line() []byte {
	switch s {
	case StatusSilent:
		return nil
	case StatusPong:
		return []byte("pong\r\n")
	default:
		return []byte(string(s) + "\n")
	}
}

func (s Status) String() string {
	if s == StatusSilent {
		return "silent"
	}
	return string(s)
}
