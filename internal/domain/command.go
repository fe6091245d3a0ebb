package domain

// ControlIntent is one caller request to change a device.
type ControlIntent struct {
	StableID string
	On       bool
	Level    int
}

// WireLevel is the level actually transmitted: clamped to [0,100], and 0
// whenever the device is being switched off.
func (c ControlIntent) WireLevel() int {
	if !c.On {
		return 0
	}
	return ClampLevel(c.Level)
}

func ClampLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}

type TransportKind string

const (
	TransportCloud TransportKind = "cloud"
	TransportBLE   TransportKind = "ble"
)

type Result string

const (
	ResultDone   Result = "done"
	ResultFailed Result = "failed"
)

// Outcome reports how a control request ended. A Done outcome with Verified
// false is a success the vendor could not confirm.
type Outcome struct {
	Result    Result
	Accepted  bool
	Verified  bool
	Transport TransportKind
	Attempts  int
	Err       error
}

func (o Outcome) Succeeded() bool {
	return o.Result == ResultDone
}

// Unverified reports the accepted-but-unconfirmed caveat.
func (o Outcome) Unverified() bool {
	return o.Result == ResultDone && !o.Verified
}

// WakeShape selects between the two wake request layouts the cloud accepts
// for Bluetooth-bridged devices.
type WakeShape int

const (
	WakePrimary WakeShape = iota
	WakeAlternate
)

func (w WakeShape) String() string {
	if w == WakeAlternate {
		return "alternate"
	}
	return "primary"
}
