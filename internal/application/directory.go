package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"marsctl/internal/domain"
)

// DefaultGroups is the candidate set of product groups listed on discovery.
// There is no way to enumerate valid groups, so the set is fixed.
var DefaultGroups = []domain.GroupTag{
	domain.Group(1),
	domain.Group(2),
	domain.Group(3),
	domain.AnyGroup,
}

// Devices are named "<PREFIX>-<HEX12>", e.g. MH-DIMBOX-345F45EC73CC. The
// token must be exactly 12 hex characters, not the tail of a longer run.
var nameHexSuffix = regexp.MustCompile(`(?:^|[^0-9A-F])([0-9A-F]{12})$`)

// ResolveStableID derives the identifier that survives the server's id
// churn: the serial field, else the hex suffix of the name, else the numeric
// id.
func ResolveStableID(raw domain.RawDevice) string {
	if s := strings.TrimSpace(raw.Serial); s != "" {
		return s
	}
	if m := nameHexSuffix.FindStringSubmatch(raw.Name); m != nil {
		return m[1]
	}
	return fmt.Sprintf("%d", raw.ID)
}

// Classify maps the vendor network flags onto a connectivity mode. Anything
// not explicitly a network device is treated as Bluetooth-only: the extra
// wake step is harmless when redundant.
func Classify(raw domain.RawDevice) domain.Connectivity {
	if raw.FlagsInvalid {
		return domain.ConnectivityUnknown
	}
	if raw.IsNetDevice != nil && *raw.IsNetDevice {
		return domain.ConnectivityWifiCloud
	}
	return domain.ConnectivityBluetoothOnly
}

func kindOf(productType string) domain.DeviceKind {
	switch strings.ToUpper(productType) {
	case "LIGHT", "":
		return domain.DeviceKindLight
	case "WIND", "FAN":
		return domain.DeviceKindFan
	default:
		return domain.DeviceKindOther
	}
}

func normalize(raw domain.RawDevice) domain.Device {
	d := domain.Device{
		ID:           raw.ID,
		StableID:     ResolveStableID(raw),
		Name:         raw.Name,
		Serial:       raw.Serial,
		Kind:         kindOf(raw.ProductType),
		Connectivity: Classify(raw),
		Level:        domain.LevelUnset,
	}
	if raw.IsOnline != nil {
		d.Online = *raw.IsOnline
	}
	if raw.IsClose != nil {
		d.On = !*raw.IsClose
	}
	if raw.Level != nil {
		d.Level = domain.ClampLevel(*raw.Level)
	}
	return d
}

// Directory holds the result of the last discovery pass.
type Directory struct {
	groups []domain.GroupTag
	logger *slog.Logger

	mu      sync.RWMutex
	devices []domain.Device
	index   map[string]int
}

func NewDirectory(groups []domain.GroupTag, logger *slog.Logger) *Directory {
	if len(groups) == 0 {
		groups = DefaultGroups
	}
	return &Directory{
		groups: groups,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Discover lists every candidate group, merges the answers and dedupes them
// by numeric id. A failing or empty group is not an error; finding nothing
// at all is.
func (d *Directory) Discover(ctx context.Context, api DeviceLister, sess domain.Session, groups ...domain.GroupTag) ([]domain.Device, error) {
	if len(groups) == 0 {
		groups = d.groups
	}

	seen := make(map[int64]bool)
	var (
		devices  []domain.Device
		failures int
		expired  error
	)

	for _, g := range groups {
		raws, err := api.ListDevices(ctx, sess, g)
		if err != nil {
			failures++
			if errors.Is(err, domain.ErrTokenExpired) && expired == nil {
				expired = err
			}
			d.logger.Warn("group listing failed", "group", g.String(), "error", err)
			continue
		}
		if len(raws) == 0 {
			d.logger.Debug("group listing empty", "group", g.String())
			continue
		}
		for _, raw := range raws {
			if seen[raw.ID] {
				continue
			}
			seen[raw.ID] = true
			devices = append(devices, normalize(raw))
		}
	}

	if len(devices) == 0 {
		if expired != nil && failures == len(groups) {
			return nil, expired
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: listed %d groups", domain.ErrNoDeviceFound, len(groups))
	}

	d.mu.Lock()
	d.devices = devices
	d.index = make(map[string]int, len(devices))
	for i := range d.devices {
		d.index[d.devices[i].StableID] = i
	}
	d.mu.Unlock()

	d.logger.Info("discovery complete",
		"devices", len(devices),
		"groups", len(groups),
		"failed_groups", failures,
	)

	result := make([]domain.Device, len(devices))
	copy(result, devices)
	return result, nil
}

func (d *Directory) Devices() []domain.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]domain.Device, len(d.devices))
	copy(result, d.devices)
	return result
}

// Lookup finds a device of the last pass by stable id, case-insensitively.
func (d *Directory) Lookup(stableID string) (domain.Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if i, ok := d.index[stableID]; ok {
		return d.devices[i], true
	}
	for _, dev := range d.devices {
		if strings.EqualFold(dev.StableID, stableID) {
			return dev, true
		}
	}
	return domain.Device{}, false
}
