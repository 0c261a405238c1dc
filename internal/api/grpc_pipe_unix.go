//go:build !windows

package api

import (
	"fmt"
	"net"
)

// listenPipe - именованные каналы есть только на Windows, здесь используйте unix:/path
func listenPipe(addr string) (net.Listener, error) {
	return nil, fmt.Errorf("named pipe %s is not available on this platform, use unix:/path or host:port", addr)
}
