package audio

import (
	"fmt"
	"io"
	"log/slog"
)

// PrintDevices writes the capture devices of ctx to w, one per line.
func PrintDevices(w io.Writer, ctx Context) error {
	devices, err := ctx.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return ErrNoAudioDevice
	}
	for _, d := range devices {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Name); err != nil {
			return err
		}
	}
	slog.Debug("listed capture devices", "count", len(devices))
	return nil
}
