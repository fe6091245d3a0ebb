// Package marshydro talks to the legacy (Mars Hydro) generation of the LG-LED
// cloud: one endpoint per operation, top-level request fields, devices
// addressed by their numeric id.
package marshydro

import (
	"context"
	"fmt"
	"time"

	"marsctl/internal/domain"
	"marsctl/internal/infra/lgled"
)

const DefaultBaseURL = "https://api.lgledsolutions.com/api/android"

const (
	pathLogin        = "ulogin/mailLogin/v1"
	pathDeviceList   = "udm/getDeviceList/v1"
	pathLampSwitch   = "udm/lampSwitch/v1"
	pathAdjustLight  = "udm/adjustLight/v1"
	pathDeviceDetail = "udm/getDeviceDetail/v1"
)

type Client struct {
	transport *lgled.Transport
	now       func() time.Time
}

func NewClient(transport *lgled.Transport) *Client {
	return &Client{transport: transport, now: time.Now}
}

func (c *Client) Generation() domain.Generation {
	return domain.GenerationLegacy
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	resp, err := c.transport.Post(ctx, pathLogin, "", map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("legacy login: %w", lgled.AsAuthError(err))
	}

	var data struct {
		Token string `json:"token"`
		ID    int64  `json:"id"`
	}
	if err := resp.Decode(&data); err != nil {
		return domain.Session{}, fmt.Errorf("legacy login: %w", err)
	}
	if data.Token == "" {
		return domain.Session{}, fmt.Errorf("legacy login: %w: response carried no token", domain.ErrAuth)
	}

	return domain.Session{
		Token:      data.Token,
		AccountID:  data.ID,
		LoggedInAt: c.now(),
		Generation: domain.GenerationLegacy,
	}, nil
}

type deviceJSON struct {
	ID           int64  `json:"id"`
	DeviceName   string `json:"deviceName"`
	SerialNum    string `json:"deviceSerialnum"`
	ProductType  string `json:"productType"`
	IsNetDevice  *bool  `json:"isNetDevice"`
	IsOnline     *bool  `json:"isOnline"`
	IsClose      *bool  `json:"isClose"`
	DeviceLight  *int   `json:"deviceLightRate"`
	ConnectState string `json:"connectType"`
}

func (d deviceJSON) raw() domain.RawDevice {
	r := domain.RawDevice{
		ID:          d.ID,
		Name:        d.DeviceName,
		Serial:      d.SerialNum,
		ProductType: d.ProductType,
		IsNetDevice: d.IsNetDevice,
		IsOnline:    d.IsOnline,
		IsClose:     d.IsClose,
		Level:       d.DeviceLight,
	}
	// Older firmware reports connectivity as a string instead of a flag.
	if r.IsNetDevice == nil {
		switch d.ConnectState {
		case "":
		case "wifi":
			v := true
			r.IsNetDevice = &v
		case "ble":
			v := false
			r.IsNetDevice = &v
		default:
			r.FlagsInvalid = true
		}
	}
	return r
}

// ListDevices ignores product groups; the legacy endpoint returns every
// device on the wildcard listing and nothing for specific groups.
func (c *Client) ListDevices(ctx context.Context, sess domain.Session, group domain.GroupTag) ([]domain.RawDevice, error) {
	if group.Set {
		return nil, nil
	}

	resp, err := c.transport.Post(ctx, pathDeviceList, sess.Token, map[string]any{
		"currentPage": 0,
		"type":        nil,
		"productId":   nil,
	})
	if err != nil {
		return nil, fmt.Errorf("legacy device list: %w", err)
	}

	var data struct {
		List []deviceJSON `json:"list"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, fmt.Errorf("legacy device list: %w", err)
	}

	devices := make([]domain.RawDevice, 0, len(data.List))
	for _, d := range data.List {
		devices = append(devices, d.raw())
	}
	return devices, nil
}

// Activate is a no-op: the legacy generation has no activation call.
func (c *Client) Activate(_ context.Context, _ domain.Session, _ domain.Device) error {
	return nil
}

func (c *Client) Wake(_ context.Context, _ domain.Session, dev domain.Device, shape domain.WakeShape) error {
	return fmt.Errorf("legacy wake %s (%s): %w", dev.StableID, shape, domain.ErrUnsupported)
}

func (c *Client) Control(ctx context.Context, sess domain.Session, dev domain.Device, on bool, level int) error {
	if !on {
		_, err := c.transport.Post(ctx, pathLampSwitch, sess.Token, map[string]any{
			"id":      dev.ID,
			"isClose": true,
		})
		if err != nil {
			return fmt.Errorf("legacy switch off %s: %w", dev.StableID, err)
		}
		return nil
	}

	_, err := c.transport.Post(ctx, pathAdjustLight, sess.Token, map[string]any{
		"id":              dev.ID,
		"serialNum":       dev.StableID,
		"deviceLightRate": level,
	})
	if err != nil {
		return fmt.Errorf("legacy adjust %s: %w", dev.StableID, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context, sess domain.Session, dev domain.Device) (domain.DeviceStatus, error) {
	resp, err := c.transport.Post(ctx, pathDeviceDetail, sess.Token, map[string]any{"id": dev.ID})
	if err != nil {
		return domain.DeviceStatus{}, fmt.Errorf("legacy detail %s: %w", dev.StableID, err)
	}

	var data deviceJSON
	if err := resp.Decode(&data); err != nil {
		return domain.DeviceStatus{}, fmt.Errorf("legacy detail %s: %w", dev.StableID, err)
	}

	st := domain.DeviceStatus{Level: domain.LevelUnset, Online: true}
	if data.IsClose != nil {
		st.On = !*data.IsClose
	}
	if data.DeviceLight != nil {
		st.Level = *data.DeviceLight
	}
	if data.IsOnline != nil {
		st.Online = *data.IsOnline
	}
	return st, nil
}
