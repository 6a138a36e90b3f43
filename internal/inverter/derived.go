package inverter

import "pi30/internal/pi30"

// PVPower is the PV input power computed from QPIGS voltage and current.
func PVPower(rec *pi30.Record) (float64, bool) {
	v, ok := rec.Float("pv_input_voltage")
	if !ok {
		return 0, false
	}
	i, ok := rec.Float("pv_input_current")
	if !ok {
		return 0, false
	}
	return v * i, true
}

// BatteryPower is positive while discharging and negative while charging.
func BatteryPower(rec *pi30.Record) (float64, bool) {
	v, ok := rec.Float("battery_voltage")
	if !ok {
		return 0, false
	}
	discharge, ok := rec.Float("battery_discharge_current")
	if !ok {
		return 0, false
	}
	charge, ok := rec.Float("battery_charging_current")
	if !ok {
		return 0, false
	}
	return v * (discharge - charge), true
}

// PowerFactor is the AC output active over apparent power. There is none
// without load.
func PowerFactor(rec *pi30.Record) (float64, bool) {
	active, ok := rec.Float("ac_output_active_power")
	if !ok {
		return 0, false
	}
	apparent, ok := rec.Float("ac_output_apparent_power")
	if !ok || apparent <= 0 {
		return 0, false
	}
	return active / apparent, true
}
