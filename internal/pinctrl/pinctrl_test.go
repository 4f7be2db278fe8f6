package pinctrl

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetAllOutput(t *testing.T) {
	sample := `
 0: ip    pu | hi // ID_SDA/GPIO0 = input
 1: ip    pu | hi // ID_SCL/GPIO1 = input
 2: no    pu | -- // GPIO2 = none
 4: op dl pn | lo // GPIO4 = output
17: op dh pn | hi // GPIO17 = output
22: op dl pn | lo // GPIO22 = output
27: op dl pd | lo // GPIO27 = output
`

	states, err := parseGetOutput(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, states, 7)

	assert.Equal(t, PinState{Pin: 17, Mode: "op", Pull: "pn", Drive: "dh", Level: "hi", Comment: "GPIO17 = output"}, states[17])
	assert.Equal(t, "--", states[2].Level)
	assert.Equal(t, "no", states[2].Mode)
	assert.Equal(t, "pd", states[27].Pull)
	assert.Equal(t, "dl", states[27].Drive)
}

func TestParseLevelOutput(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0", false},
		{"1", true},
		{"\n1\n", true},
		{"\n0\n", false},
	}
	for _, tc := range tests {
		result, err := parseLevelOutput(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.expected, result, "input %q", tc.input)
	}

	_, err := parseLevelOutput("garbage")
	assert.Error(t, err)
}

func TestDriveBuildsSetArguments(t *testing.T) {
	orig := Run
	defer func() { Run = orig }()

	var calls [][]string
	Run = func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		return nil, nil
	}

	require.NoError(t, Drive(17, true))
	require.NoError(t, Drive(22, false))

	assert.Equal(t, [][]string{
		{"set", "17", "op", "pn", "dh"},
		{"set", "22", "op", "pn", "dl"},
	}, calls)
}

func TestSetPinReportsOutput(t *testing.T) {
	orig := Run
	defer func() { Run = orig }()

	Run = func(args ...string) ([]byte, error) {
		return []byte("permission denied"), errors.New("exit status 1")
	}

	err := SetPin(4, "op")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestReadLevel(t *testing.T) {
	orig := Run
	defer func() { Run = orig }()

	Run = func(args ...string) ([]byte, error) {
		assert.Equal(t, []string{"lev", "17"}, args)
		return []byte("1\n"), nil
	}

	level, err := ReadLevel(17)
	require.NoError(t, err)
	assert.True(t, level)
}
