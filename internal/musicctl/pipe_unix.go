//go:build !windows

package musicctl

import (
	"net"
	"time"
)

// dialPipe dials mpv's --input-ipc-server Unix domain socket, mpv's
// equivalent of a Windows named pipe on POSIX systems.
func dialPipe(path string, timeout time.Duration) (pipeConn, error) {
	return net.DialTimeout("unix", path, timeout)
}
