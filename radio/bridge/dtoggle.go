package bridge

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// toggleDTRReset resets the carrier board by pulsing the UART's DTR modem
// control line, for boards that wire reset to DTR instead of exposing a
// dedicated GPIO pin. Used as the fallback reset path when Config.GPIO.Chip
// is empty, grounded on the teacher's own _TIOCM ioctl helper for
// manipulating modem control lines directly.
func toggleDTRReset(fd int) error {
	status, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return fmt.Errorf("bridge: TIOCMGET: %w", err)
	}

	if err := unix.IoctlSetInt(fd, unix.TIOCMSET, status|unix.TIOCM_DTR); err != nil {
		return fmt.Errorf("bridge: assert DTR: %w", err)
	}

	time.Sleep(100 * time.Microsecond)

	if err := unix.IoctlSetInt(fd, unix.TIOCMSET, status&^unix.TIOCM_DTR); err != nil {
		return fmt.Errorf("bridge: deassert DTR: %w", err)
	}

	time.Sleep(5 * time.Millisecond)

	return nil
}
