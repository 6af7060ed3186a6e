package status

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcePrefersFullSensorDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appliance_data.txt")
	require.NoError(t, os.WriteFile(path, []byte(statusFile), 0o644))

	rec := NewRecorder(24, 1, zerolog.Nop())
	for h := 0; h < 24; h++ {
		w := 0.0
		if h == 2 {
			w = 900
		}
		rec.Add(map[string]float64{"Heater_Power": w, "AC_Power": w})
	}
	// a partial day is not enough to replace the file
	rec2 := NewRecorder(24, 1, zerolog.Nop())
	rec2.Add(map[string]float64{"WashingMachine_Power": 500})

	got, err := Source{File: path, Recorder: rec}.Load(map[string]float64{"Heater_Power": 0.6, "WashingMachine_Power": 0.6})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, got["Heater_Power"].OnHours())
	assert.Equal(t, []int{18, 19}, got["WashingMachine_Power"].OnHours())

	got, err = Source{File: path, Recorder: rec2}.Load(map[string]float64{"WashingMachine_Power": 0.6})
	require.NoError(t, err)
	assert.Equal(t, []int{18, 19}, got["WashingMachine_Power"].OnHours())

	got, err = Source{File: path}.Load(map[string]float64{"Heater_Power": 0.6})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 22, 23}, got["Heater_Power"].OnHours())
}
