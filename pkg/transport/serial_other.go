//go:build !linux

package transport

import (
	"fmt"
	"os"
	"runtime"
)

func openSerial(device string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial %s: not supported on %s", device, runtime.GOOS)
}
