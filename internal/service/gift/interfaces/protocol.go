package interfaces

import (
	"strconv"
	"strings"
)

// RequestKind 是一行请求被解析后的类别
type RequestKind int

const (
	// KindIgnore 不回任何字节: 空行、格式错误的 ping
	KindIgnore RequestKind = iota
	KindPing
	KindCheck
	KindRegister
	// KindInvalid 回 400
	KindInvalid
)

const (
	tokenPing     = "ping"
	tokenCheck    = "1"
	tokenRegister = "2"
)

// Request 是一行协议文本解析后的结果
type Request struct {
	Kind      RequestKind
	Phone     string
	DeviceID  int64
	ProductID int64
}

// Label 用作指标和日志里的命令名
func (r Request) Label() string {
	switch r.Kind {
	case KindPing:
		return "ping"
	case KindCheck:
		return "check"
	case KindRegister:
		return "register"
	case KindInvalid:
		return "invalid"
	default:
		return "ignored"
	}
}

// ParseRequest 解析一行请求。行首尾空白 (包括 \r) 先被去掉，命令不区分大小写。
//
//	ping,<device>                  终端心跳
//	1,<phone>                      查询剩余次数
//	2,<phone>,<device>,<product>   登记一次领取
func ParseRequest(line string) Request {
	line = strings.TrimSpace(strings.ToValidUTF8(line, ""))
	if line == "" {
		return Request{Kind: KindIgnore}
	}

	parts := strings.Split(line, ",")
	command := strings.ToLower(parts[0])

	switch {
	case command == tokenPing && len(parts) == 2:
		id, err := parseID(parts[1])
		if err != nil {
			return Request{Kind: KindIgnore}
		}
		return Request{Kind: KindPing, DeviceID: id}

	case command == tokenCheck && len(parts) == 2:
		phone := strings.TrimSpace(parts[1])
		if phone == "" {
			return Request{Kind: KindInvalid}
		}
		return Request{Kind: KindCheck, Phone: phone}

	case command == tokenRegister && len(parts) == 4:
		phone := strings.TrimSpace(parts[1])
		if phone == "" {
			return Request{Kind: KindInvalid}
		}
		deviceID, err := parseID(parts[2])
		if err != nil {
			return Request{Kind: KindInvalid, Phone: phone}
		}
		productID, err := parseID(parts[3])
		if err != nil {
			return Request{Kind: KindInvalid, Phone: phone}
		}
		return Request{Kind: KindRegister, Phone: phone, DeviceID: deviceID, ProductID: productID}
	}

	return Request{Kind: KindInvalid}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
