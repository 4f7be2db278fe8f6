package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
)

var testRegister = config.ShiftRegister{Latch: 22, Data: 27, Clock: 4, NOE: 17, Outputs: 8}

func mockLevels(t *testing.T, levels map[int]bool) {
	t.Helper()
	origRead, origDrive := readLevel, drive
	t.Cleanup(func() {
		readLevel, drive = origRead, origDrive
		SetSafeMode(false)
	})
	readLevel = func(pin int) (bool, error) {
		level, ok := levels[pin]
		if !ok {
			return false, errors.New("unknown pin")
		}
		return level, nil
	}
	drive = func(pin int, high bool) error {
		levels[pin] = high
		return nil
	}
}

func TestValidateStartupPins_Valid(t *testing.T) {
	mockLevels(t, map[int]bool{17: true, 22: false, 4: false, 27: false})
	assert.NoError(t, ValidateStartupPins(testRegister))
}

func TestValidateStartupPins_Mismatch(t *testing.T) {
	mockLevels(t, map[int]bool{17: false, 22: false, 4: false, 27: false})
	err := ValidateStartupPins(testRegister)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "noe")
}

func TestValidateStartupPins_ReadFailure(t *testing.T) {
	mockLevels(t, map[int]bool{17: true})
	assert.Error(t, ValidateStartupPins(testRegister))
}

func TestValidateStartupPins_SafeModeSkips(t *testing.T) {
	mockLevels(t, map[int]bool{})
	SetSafeMode(true)
	assert.NoError(t, ValidateStartupPins(testRegister))
}

func TestPinctrlSetPin(t *testing.T) {
	levels := map[int]bool{}
	mockLevels(t, levels)

	require.NoError(t, Pinctrl{}.SetPin(27, true))
	assert.True(t, levels[27])

	SetSafeMode(true)
	require.NoError(t, Pinctrl{}.SetPin(27, false))
	assert.True(t, levels[27], "safe mode must not touch the line")
}

func TestPinctrlSetPinWrapsError(t *testing.T) {
	mockLevels(t, map[int]bool{})
	drive = func(pin int, high bool) error { return errors.New("boom") }

	err := Pinctrl{}.SetPin(4, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GPIO 4")
}

func TestValidateStartupPins_AfterShutdown(t *testing.T) {
	levels := map[int]bool{17: true, 22: false, 4: false, 27: false}
	mockLevels(t, levels)
	d := shiftreg.New(Pinctrl{}, testRegister)

	require.NoError(t, d.Write(shiftreg.Vector(8, 3, 7)))
	require.NoError(t, d.ShutoffAll())
	assert.Error(t, ValidateStartupPins(testRegister), "a latched register leaves NOE low")

	require.NoError(t, d.Park())
	assert.NoError(t, ValidateStartupPins(testRegister))
}
