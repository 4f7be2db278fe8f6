package gpio

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/pinctrl"
)

var safeMode bool

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

var drive = pinctrl.Drive
var readLevel = pinctrl.ReadLevel

// Pinctrl drives raw GPIO lines through the pinctrl tool. It satisfies
// shiftreg.Lines.
type Pinctrl struct{}

func (Pinctrl) SetPin(pin int, high bool) error {
	if safeMode {
		log.Debug().Int("gpio", pin).Bool("high", high).Msg("Safe mode: skipping GPIO write")
		return nil
	}
	if err := drive(pin, high); err != nil {
		return fmt.Errorf("set GPIO %d: %w", pin, err)
	}
	return nil
}

// ValidateStartupPins checks that the register's control lines are in the
// state the boot script leaves them in: NOE high (outputs blanked), the
// rest low. Anything else means something else has been driving the chain.
func ValidateStartupPins(sr config.ShiftRegister) error {
	if safeMode {
		return nil
	}

	checks := []struct {
		name string
		pin  int
		high bool
	}{
		{"noe", sr.NOE, true},
		{"latch", sr.Latch, false},
		{"clock", sr.Clock, false},
		{"data", sr.Data, false},
	}

	for _, check := range checks {
		level, err := readLevel(check.pin)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", check.name, check.pin, err)
		}
		if level != check.high {
			return fmt.Errorf("pin %d (%s) is in wrong state at startup (expected high=%v)", check.pin, check.name, check.high)
		}
	}
	return nil
}
