package domain

import "strconv"

type DeviceKind string

const (
	DeviceKindLight DeviceKind = "light"
	DeviceKindFan   DeviceKind = "fan"
	DeviceKindOther DeviceKind = "other"
)

// Connectivity is how a device can be reached. Callers switch on it
// exhaustively instead of inspecting the raw vendor flags.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota
	ConnectivityWifiCloud
	ConnectivityBluetoothOnly
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityWifiCloud:
		return "wifi"
	case ConnectivityBluetoothOnly:
		return "bluetooth"
	default:
		return "unknown"
	}
}

// LevelUnset marks a device whose brightness/speed has never been observed.
const LevelUnset = -1

// MinStableIDLength is the shortest identifier worth addressing a command to.
const MinStableIDLength = 6

// Device is one record of a discovery pass. ID churns between passes; only
// StableID may be persisted.
type Device struct {
	ID           int64
	StableID     string
	Name         string
	Serial       string
	Kind         DeviceKind
	Connectivity Connectivity
	Online       bool
	On           bool
	Level        int
}

func (d Device) NumericID() string {
	return strconv.FormatInt(d.ID, 10)
}

// RawDevice is a device as reported by one generation of the cloud API,
// before identity resolution and classification.
type RawDevice struct {
	ID           int64
	Name         string
	Serial       string
	ProductType  string
	IsNetDevice  *bool
	IsOnline     *bool
	IsClose      *bool
	Level        *int
	FlagsInvalid bool
}

// GroupTag is a vendor product group used to partition discovery queries.
// The zero value is the wildcard tag, sent with no group at all.
type GroupTag struct {
	Value int
	Set   bool
}

var AnyGroup = GroupTag{}

func Group(v int) GroupTag {
	return GroupTag{Value: v, Set: true}
}

func (g GroupTag) String() string {
	if !g.Set {
		return "any"
	}
	return strconv.Itoa(g.Value)
}

// DeviceStatus is what a status query reports about a device.
type DeviceStatus struct {
	On     bool
	Level  int
	Online bool
}

// StateReport is what the host sees for a device. Fresh is false when the
// status query failed and Device holds the last known state instead.
type StateReport struct {
	Device Device
	Fresh  bool
	Err    error
}
