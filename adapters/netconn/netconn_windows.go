//go:build windows
// +build windows

package netconn

import (
	"net"

	winio "github.com/Microsoft/go-winio"
	"github.com/pkg/errors"
)

// Listen opens a named pipe at path (e.g. `\\.\pipe\proximate`), per
// the teacher's socket_windows.go AgentListen, which swaps a unix
// socket for a go-winio pipe listener on this platform.
func Listen(path string) (net.Listener, error) {
	l, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "netconn: listen on pipe %s", path)
	}
	return l, nil
}

// Dial connects to a named pipe at path.
func Dial(path string) (net.Conn, error) {
	conn, err := winio.DialPipe(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "netconn: dial pipe %s", path)
	}
	return conn, nil
}
