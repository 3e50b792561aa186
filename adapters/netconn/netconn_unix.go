//go:build !windows
// +build !windows

package netconn

import (
	"net"
	"os"

	"github.com/pkg/errors"
)

// Listen binds a unix-domain socket at path, removing any stale socket
// file left behind by an unclean shutdown first, per the teacher's
// AgentListenUnix/DaemonListen convention.
func Listen(path string) (net.Listener, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "netconn: listen on %s", path)
	}
	return l, nil
}

// Dial connects to a unix-domain socket at path, grounded on the
// teacher's DaemonDial.
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "netconn: dial %s", path)
	}
	return conn, nil
}
