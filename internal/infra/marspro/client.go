// Package marspro talks to the current (MarsPro) generation of the LG-LED
// cloud, where every call is an instruction posted to a single endpoint.
package marspro

import (
	"context"
	"fmt"
	"time"

	"marsctl/internal/domain"
	"marsctl/internal/infra/lgled"
)

const (
	DefaultBaseURL = "https://mars-pro.api.lgledsolutions.com"
	upwardPath     = "/api/upward"
	pageSize       = 50
)

// maxPages bounds the walk if the server ignores currentPage.
const maxPages = 20

const (
	methodLogin      = "userLogin"
	methodDeviceList = "getDevicePageList"
	methodActivate   = "upDataActivate"
	methodWake       = "bleWakeUp"
	methodWakeAlt    = "wakeUpDevice"
	methodControl    = "outletCtrl"
	methodStatus     = "getDeviceDetail"
)

type Client struct {
	transport *lgled.Transport
	now       func() time.Time
}

func NewClient(transport *lgled.Transport) *Client {
	return &Client{transport: transport, now: time.Now}
}

func (c *Client) Generation() domain.Generation {
	return domain.GenerationPrimary
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	resp, err := c.transport.Call(ctx, upwardPath, "", lgled.Instruction{
		Method: methodLogin,
		Params: map[string]any{
			"email":       creds.Email,
			"password":    creds.Password,
			"loginMethod": "1",
		},
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", lgled.AsAuthError(err))
	}

	var data struct {
		Token  string `json:"token"`
		UserID int64  `json:"userId"`
	}
	if err := resp.Decode(&data); err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	if data.Token == "" {
		return domain.Session{}, fmt.Errorf("login: %w: response carried no token", domain.ErrAuth)
	}

	return domain.Session{
		Token:      data.Token,
		AccountID:  data.UserID,
		LoggedInAt: c.now(),
		Generation: domain.GenerationPrimary,
	}, nil
}

type deviceJSON struct {
	ID          int64  `json:"id"`
	DeviceName  string `json:"deviceName"`
	PID         string `json:"pid"`
	SerialNum   string `json:"deviceSerialnum"`
	ProductType string `json:"productType"`
	IsNetDevice *bool  `json:"isNetDevice"`
	IsOnline    *bool  `json:"isOnline"`
	IsClose     *bool  `json:"isClose"`
	LightRate   *int   `json:"deviceLightRate"`
}

func (d deviceJSON) raw() domain.RawDevice {
	serial := d.PID
	if serial == "" {
		serial = d.SerialNum
	}
	return domain.RawDevice{
		ID:          d.ID,
		Name:        d.DeviceName,
		Serial:      serial,
		ProductType: d.ProductType,
		IsNetDevice: d.IsNetDevice,
		IsOnline:    d.IsOnline,
		IsClose:     d.IsClose,
		Level:       d.LightRate,
	}
}

// ListDevices reads every page of one product group. A page shorter than
// pageSize is the last one.
func (c *Client) ListDevices(ctx context.Context, sess domain.Session, group domain.GroupTag) ([]domain.RawDevice, error) {
	var devices []domain.RawDevice

	for page := 0; page < maxPages; page++ {
		params := map[string]any{
			"currentPage": page,
			"pageSize":    pageSize,
		}
		if group.Set {
			params["productGroup"] = group.Value
		}

		resp, err := c.transport.Call(ctx, upwardPath, sess.Token, lgled.Instruction{Method: methodDeviceList, Params: params})
		if err != nil {
			return nil, fmt.Errorf("listing devices for group %s, page %d: %w", group, page, err)
		}

		var data struct {
			List []deviceJSON `json:"list"`
		}
		if err := resp.Decode(&data); err != nil {
			return nil, fmt.Errorf("listing devices for group %s, page %d: %w", group, page, err)
		}

		for _, d := range data.List {
			devices = append(devices, d.raw())
		}
		if len(data.List) < pageSize {
			break
		}
	}
	return devices, nil
}

func (c *Client) Activate(ctx context.Context, sess domain.Session, dev domain.Device) error {
	_, err := c.transport.Call(ctx, upwardPath, sess.Token, lgled.Instruction{
		Method: methodActivate,
		Params: map[string]any{"pid": dev.StableID, "userId": sess.AccountID},
	})
	if err != nil {
		return fmt.Errorf("activating %s: %w", dev.StableID, err)
	}
	return nil
}

func (c *Client) Wake(ctx context.Context, sess domain.Session, dev domain.Device, shape domain.WakeShape) error {
	in := lgled.Instruction{Method: methodWake, Params: map[string]any{"pid": dev.StableID}}
	if shape == domain.WakeAlternate {
		in = lgled.Instruction{Method: methodWakeAlt, Params: map[string]any{"deviceSerialnum": dev.StableID, "wakeUp": 1}}
	}
	if _, err := c.transport.Call(ctx, upwardPath, sess.Token, in); err != nil {
		return fmt.Errorf("waking %s (%s): %w", dev.StableID, shape, err)
	}
	return nil
}

func (c *Client) Control(ctx context.Context, sess domain.Session, dev domain.Device, on bool, level int) error {
	_, err := c.transport.Call(ctx, upwardPath, sess.Token, lgled.Instruction{
		Method: methodControl,
		Params: map[string]any{
			"pid":     dev.StableID,
			"num":     level,
			"isClose": !on,
		},
	})
	if err != nil {
		return fmt.Errorf("controlling %s: %w", dev.StableID, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context, sess domain.Session, dev domain.Device) (domain.DeviceStatus, error) {
	resp, err := c.transport.Call(ctx, upwardPath, sess.Token, lgled.Instruction{
		Method: methodStatus,
		Params: map[string]any{"pid": dev.StableID},
	})
	if err != nil {
		return domain.DeviceStatus{}, fmt.Errorf("querying %s: %w", dev.StableID, err)
	}

	var data deviceJSON
	if err := resp.Decode(&data); err != nil {
		return domain.DeviceStatus{}, fmt.Errorf("querying %s: %w", dev.StableID, err)
	}
	return statusFrom(data), nil
}

func statusFrom(d deviceJSON) domain.DeviceStatus {
	st := domain.DeviceStatus{Level: domain.LevelUnset, Online: true}
	if d.IsClose != nil {
		st.On = !*d.IsClose
	}
	if d.LightRate != nil {
		st.Level = *d.LightRate
	}
	if d.IsOnline != nil {
		st.Online = *d.IsOnline
	}
	return st
}
