package pi30

// Kind is the declared type of a response token.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindText
	KindEnum
	KindBitfield
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindEnum:
		return "enum"
	case KindBitfield:
		return "bitfield"
	}
	return "unknown"
}

// Field describes one positional token of a response.
type Field struct {
	Name string
	Kind Kind
	Unit string

	// Prefix is stripped from text tokens, e.g. "VERFW:".
	Prefix string
	// Labels maps enum tokens to their documented meaning. A token missing
	// from Labels fails to decode.
	Labels map[string]string
	// Bits names bitfield positions from the leftmost character. The token
	// must be at least len(Bits) characters long. Empty names are reserved
	// positions and produce no flag.
	Bits []string
}

// Schema is the fixed response layout of a command. The first Required
// fields must be present; the rest were added by later firmware.
type Schema struct {
	Command     Command
	Description string
	Required    int
	Fields      []Field
}

// Field returns the field definition with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// deviceStatusBits is the QPIGS device_status bit table, leftmost first.
var deviceStatusBits = []string{
	"sbu_priority_version_added",
	"configuration_changed",
	"scc_firmware_updated",
	"load_on",
	"battery_voltage_to_steady",
	"charging_on",
	"scc_charging_on",
	"ac_charging_on",
}

var deviceStatus2Bits = []string{
	"charging_to_float",
	"switch_on",
	"dustproof_installed",
}

// warningBits is the QPIWS warning table. Empty names are reserved.
var warningBits = []string{
	"",
	"inverter_fault",
	"bus_over",
	"bus_under",
	"bus_soft_fail",
	"line_fail",
	"opv_short",
	"inverter_voltage_too_low",
	"inverter_voltage_too_high",
	"over_temperature",
	"fan_locked",
	"battery_voltage_high",
	"battery_low_alarm",
	"",
	"battery_under_shutdown",
	"",
	"over_load",
	"eeprom_fault",
	"inverter_over_current",
	"inverter_soft_fail",
	"self_test_fail",
	"op_dc_voltage_over",
	"battery_open",
	"current_sensor_fail",
	"battery_short",
	"power_limit",
	"pv_voltage_high",
	"mppt_overload_fault",
	"mppt_overload_warning",
	"battery_too_low_to_charge",
	"",
	"",
}

var deviceModes = map[string]string{
	"P": "Power on",
	"S": "Standby",
	"L": "Line",
	"B": "Battery",
	"F": "Fault",
	"H": "Power saving",
	"D": "Shutdown",
}

var schemas = []Schema{
	{
		Command:     CommandProtocolID,
		Description: "Protocol ID",
		Required:    1,
		Fields: []Field{
			{Name: "protocol_id", Kind: KindText},
		},
	},
	{
		Command:     CommandSerialNumber,
		Description: "Device serial number",
		Required:    1,
		Fields: []Field{
			{Name: "serial_number", Kind: KindText},
		},
	},
	{
		Command:     CommandFirmwareVersion,
		Description: "Main CPU firmware version",
		Required:    1,
		Fields: []Field{
			{Name: "firmware_version", Kind: KindText, Prefix: "VERFW:"},
		},
	},
	{
		Command:     CommandDeviceMode,
		Description: "Device mode",
		Required:    1,
		Fields: []Field{
			{Name: "device_mode", Kind: KindEnum, Labels: deviceModes},
		},
	},
	{
		Command:     CommandGeneralStatus,
		Description: "General status parameters",
		Required:    16,
		Fields: []Field{
			{Name: "grid_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "grid_frequency", Kind: KindFloat, Unit: "Hz"},
			{Name: "ac_output_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "ac_output_frequency", Kind: KindFloat, Unit: "Hz"},
			{Name: "ac_output_apparent_power", Kind: KindInt, Unit: "VA"},
			{Name: "ac_output_active_power", Kind: KindInt, Unit: "W"},
			{Name: "output_load_percent", Kind: KindInt, Unit: "%"},
			{Name: "bus_voltage", Kind: KindInt, Unit: "V"},
			{Name: "battery_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_charging_current", Kind: KindInt, Unit: "A"},
			{Name: "battery_capacity", Kind: KindInt, Unit: "%"},
			{Name: "inverter_heat_sink_temperature", Kind: KindInt, Unit: "°C"},
			{Name: "pv_input_current", Kind: KindFloat, Unit: "A"},
			{Name: "pv_input_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_voltage_scc", Kind: KindFloat, Unit: "V"},
			{Name: "battery_discharge_current", Kind: KindInt, Unit: "A"},
			{Name: "device_status", Kind: KindBitfield, Bits: deviceStatusBits},
			{Name: "battery_voltage_offset_for_fans", Kind: KindInt, Unit: "10mV"},
			{Name: "eeprom_version", Kind: KindText},
			{Name: "pv_charging_power", Kind: KindInt, Unit: "W"},
			{Name: "device_status_2", Kind: KindBitfield, Bits: deviceStatus2Bits},
		},
	},
	{
		Command:     CommandRating,
		Description: "Device rating information",
		Required:    21,
		Fields: []Field{
			{Name: "grid_rating_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "grid_rating_current", Kind: KindFloat, Unit: "A"},
			{Name: "ac_output_rating_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "ac_output_rating_frequency", Kind: KindFloat, Unit: "Hz"},
			{Name: "ac_output_rating_current", Kind: KindFloat, Unit: "A"},
			{Name: "ac_output_rating_apparent_power", Kind: KindInt, Unit: "VA"},
			{Name: "ac_output_rating_active_power", Kind: KindInt, Unit: "W"},
			{Name: "battery_rating_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_recharge_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_under_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_bulk_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_float_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "battery_type", Kind: KindEnum, Labels: map[string]string{
				"0": "AGM", "1": "Flooded", "2": "User", "3": "Pylontech", "4": "Shinheung", "5": "WECO", "6": "Soltaro",
				"7": "BAK", "8": "LIb protocol", "9": "LIc protocol",
			}},
			{Name: "max_ac_charging_current", Kind: KindInt, Unit: "A"},
			{Name: "max_charging_current", Kind: KindInt, Unit: "A"},
			{Name: "input_voltage_range", Kind: KindEnum, Labels: map[string]string{
				"0": "Appliance", "1": "UPS",
			}},
			{Name: "output_source_priority", Kind: KindEnum, Labels: map[string]string{
				"0": "Utility first", "1": "Solar first", "2": "SBU first",
			}},
			{Name: "charger_source_priority", Kind: KindEnum, Labels: map[string]string{
				"0": "Utility first", "1": "Solar first", "2": "Solar and utility", "3": "Only solar",
			}},
			{Name: "parallel_max_num", Kind: KindText},
			{Name: "machine_type", Kind: KindEnum, Labels: map[string]string{
				"00": "Grid tie", "01": "Off grid", "10": "Hybrid",
			}},
			{Name: "topology", Kind: KindEnum, Labels: map[string]string{
				"0": "Transformerless", "1": "Transformer",
			}},
			{Name: "output_mode", Kind: KindEnum, Labels: map[string]string{
				"0": "Single machine", "1": "Parallel", "2": "Phase 1 of 3", "3": "Phase 2 of 3", "4": "Phase 3 of 3",
				"5": "Phase 1 of 2", "6": "Phase 2 of 2 (120°)", "7": "Phase 2 of 2 (180°)",
			}},
			{Name: "battery_redischarge_voltage", Kind: KindFloat, Unit: "V"},
			{Name: "pv_ok_condition_for_parallel", Kind: KindEnum, Labels: map[string]string{
				"0": "Any inverter connected to PV", "1": "All inverters connected to PV",
			}},
			{Name: "pv_power_balance", Kind: KindEnum, Labels: map[string]string{
				"0": "PV input max current is max charged current", "1": "PV input max power is charged power plus load power",
			}},
		},
	},
	{
		Command:     CommandWarningStatus,
		Description: "Device warning status",
		Required:    1,
		Fields: []Field{
			{Name: "warning_status", Kind: KindBitfield, Bits: warningBits},
		},
	},
}

var schemaIndex = func() map[Command]*Schema {
	idx := make(map[Command]*Schema, len(schemas))
	for i := range schemas {
		idx[schemas[i].Command] = &schemas[i]
	}
	return idx
}()

// SchemaFor returns a copy of the response layout of cmd.
func SchemaFor(cmd Command) (*Schema, error) {
	s, ok := schemaIndex[cmd]
	if !ok {
		return nil, &UnknownCommandError{Command: string(cmd)}
	}
	c := s.clone()
	return &c, nil
}

// Schemas returns a copy of the whole table in command order.
func Schemas() []Schema {
	out := make([]Schema, len(schemas))
	for i := range schemas {
		out[i] = schemas[i].clone()
	}
	return out
}

func (s *Schema) clone() Schema {
	c := *s
	c.Fields = make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		if f.Labels != nil {
			labels := make(map[string]string, len(f.Labels))
			for k, v := range f.Labels {
				labels[k] = v
			}
			f.Labels = labels
		}
		if f.Bits != nil {
			f.Bits = append([]string(nil), f.Bits...)
		}
		c.Fields[i] = f
	}
	return c
}
