package bridge

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOConfig names the two lines the carrier board exposes alongside the
// UART: a hardware reset line (active low, output) and a DIO0 "packet
// ready" interrupt line (input, rising edge on packet-received or
// transmit-complete depending on the module's configured IRQ mapping).
type GPIOConfig struct {
	Chip       string // e.g. "gpiochip0"
	ResetLine  int
	DIO0Line   int
}

type gpioLines struct {
	reset *gpiocdev.Line
	dio0  *gpiocdev.Line
}

func openGPIO(cfg GPIOConfig, onDIO0 func()) (*gpioLines, error) {
	reset, err := gpiocdev.RequestLine(cfg.Chip, cfg.ResetLine, gpiocdev.AsOutput(1))
	if err != nil {
		return nil, fmt.Errorf("bridge: request reset line: %w", err)
	}

	dio0, err := gpiocdev.RequestLine(cfg.Chip, cfg.DIO0Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventRisingEdge && onDIO0 != nil {
				onDIO0()
			}
		}),
	)
	if err != nil {
		reset.Close()
		return nil, fmt.Errorf("bridge: request DIO0 line: %w", err)
	}

	return &gpioLines{reset: reset, dio0: dio0}, nil
}

// pulseReset drives the reset line low then high, per the RFM9xW's documented
// reset sequence (hold low >=100us, then wait >=5ms before use).
func (g *gpioLines) pulseReset() error {
	if err := g.reset.SetValue(0); err != nil {
		return fmt.Errorf("bridge: assert reset: %w", err)
	}

	time.Sleep(100 * time.Microsecond)

	if err := g.reset.SetValue(1); err != nil {
		return fmt.Errorf("bridge: deassert reset: %w", err)
	}

	time.Sleep(5 * time.Millisecond)

	return nil
}

func (g *gpioLines) close() {
	if g.dio0 != nil {
		g.dio0.Close()
	}

	if g.reset != nil {
		g.reset.Close()
	}
}
