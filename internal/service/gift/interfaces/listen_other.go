//go:build !linux

package interfaces

import "net"

// Listen 在非 Linux 平台上使用系统默认 backlog
func Listen(addr string, _ int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
