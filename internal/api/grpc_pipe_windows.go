//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listenPipe слушает \\.\pipe\name; доступ только у текущего пользователя
func listenPipe(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		MessageMode:        false,
	})
}
