//go:build windows

package cmds

import (
	"io"

	"github.com/pkg/errors"
)

func openTTY() (io.ReadWriteCloser, error) {
	return nil, errors.New("no controlling terminal on windows")
}
