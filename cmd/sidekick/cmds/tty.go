//go:build !windows

package cmds

import (
	"io"
	"os"
)

// openTTY opens the controlling terminal, so confirmations work even when
// stdin is redirected.
func openTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}
