package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePreferences(t *testing.T) {
	names := []string{"AC_Power", "Heater_Power", "VehicleCharger_Power"}
	tests := []struct {
		name string
		msg  string
		want map[string]bool
	}{
		{"single", "Allow AC_Power ON during peak hours",
			map[string]bool{"AC_Power": true, "Heater_Power": false, "VehicleCharger_Power": false}},
		{"case and spacing", "please allow  heater_power on during PEAK hours, thanks",
			map[string]bool{"AC_Power": false, "Heater_Power": true, "VehicleCharger_Power": false}},
		{"several", "Allow AC_Power ON during peak hours. Allow VehicleCharger_Power ON during peak hours.",
			map[string]bool{"AC_Power": true, "Heater_Power": false, "VehicleCharger_Power": true}},
		{"empty", "",
			map[string]bool{"AC_Power": false, "Heater_Power": false, "VehicleCharger_Power": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePreferences(tt.msg, names))
		})
	}
}
