//go:build windows

package musicctl

import (
	"time"

	npipe "gopkg.in/natefinch/npipe.v2"
)

// dialPipe dials a Windows named pipe, e.g. \\.\pipe\mpvsocket.
func dialPipe(path string, timeout time.Duration) (pipeConn, error) {
	return npipe.DialTimeout(path, timeout)
}
