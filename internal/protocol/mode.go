package protocol

// ChargeState is the tag battery charger state reported in the mode word.
type ChargeState int

const (
	NotCharging ChargeState = iota
	Charging
	FullyCharged
)

func (c ChargeState) String() string {
	switch c {
	case Charging:
		return "charging"
	case FullyCharged:
		return "fully_charged"
	default:
		return "not_charging"
	}
}

// Mode word bits (the tag's service data word "V").
const (
	modeLowBattery      = 1 << 0
	modeAlarm           = 1 << 1
	modeChargeN         = 1 << 2
	modeStandbyN        = 1 << 3
	modeBatteryShift    = 4
	modeBatteryMask     = 0x3FF
	modeRangeOffsetZero = 1 << 14
	modePDOAOffsetZero  = 1 << 15

	// RawOffsetsMask is set when the node applied neither offset to a report.
	RawOffsetsMask = modeRangeOffsetZero | modePDOAOffsetZero
)

// ModeFlags is the decoded service data word of a TWR report.
type ModeFlags struct {
	LowBattery      bool        `json:"low_battery"`
	Alarm           bool        `json:"alarm"`
	Charge          ChargeState `json:"charge"`
	BatteryVolts    float64     `json:"battery_volts"`
	RangeOffsetZero bool        `json:"range_offset_zero"`
	PDOAOffsetZero  bool        `json:"pdoa_offset_zero"`
}

// DecodeMode unpacks a mode word. The charger lines are active low.
func DecodeMode(mode int) ModeFlags {
	f := ModeFlags{
		LowBattery:      mode&modeLowBattery != 0,
		Alarm:           mode&modeAlarm != 0,
		BatteryVolts:    float64((mode>>modeBatteryShift)&modeBatteryMask) / 100,
		RangeOffsetZero: mode&modeRangeOffsetZero != 0,
		PDOAOffsetZero:  mode&modePDOAOffsetZero != 0,
	}
	chrg := mode&modeChargeN != 0
	stdby := mode&modeStandbyN != 0
	switch {
	case !chrg && stdby:
		f.Charge = Charging
	case chrg && !stdby:
		f.Charge = FullyCharged
	default:
		f.Charge = NotCharging
	}
	return f
}

// RawOffsets reports whether both node-side offsets were zero for the report.
func RawOffsets(mode int) bool { return mode&RawOffsetsMask == RawOffsetsMask }
