package transport

import (
	"context"
	"fmt"
	"io"
)

// StartSerial streams bytes from a serial device, e.g. a flight controller on
// /dev/ttyACM0 or a telemetry radio.
func StartSerial(ctx context.Context, device string, baud int, sink Sink, opts ...Option) *Listener {
	l := newListener(fmt.Sprintf("serial %s@%d", device, baud), sink, opts)
	l.open = func(context.Context) (io.ReadCloser, error) {
		f, err := openSerial(device, baud)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	go l.run(ctx)
	return l
}
