package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"
)

var errNotFound = errors.New("device not advertising")

type tinygoRadio struct {
	adapter *bluetooth.Adapter
}

func newTinygoRadio() *tinygoRadio {
	return &tinygoRadio{adapter: bluetooth.DefaultAdapter}
}

func (r *tinygoRadio) Enable() error {
	return r.adapter.Enable()
}

// Connect scans until a device whose local name ends with nameSuffix shows
// up, or until timeout or ctx expires.
func (r *tinygoRadio) Connect(ctx context.Context, nameSuffix string, timeout time.Duration) (link, error) {
	suffix := strings.ToUpper(nameSuffix)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		_ = r.adapter.StopScan()
	}()

	var (
		found  bluetooth.ScanResult
		exists bool
	)
	err := r.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if strings.HasSuffix(strings.ToUpper(result.LocalName()), suffix) {
			found = result
			exists = true
			_ = a.StopScan()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	if !exists {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", errNotFound, nameSuffix)
	}

	dev, err := r.adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return &tinygoLink{device: dev}, nil
}

type tinygoLink struct {
	device bluetooth.Device
}

func (l *tinygoLink) Write(serviceUUID, charUUID string, data []byte) error {
	svcID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("parsing service uuid: %w", err)
	}
	charID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return fmt.Errorf("parsing characteristic uuid: %w", err)
	}

	services, err := l.device.DiscoverServices([]bluetooth.UUID{svcID})
	if err != nil {
		return fmt.Errorf("discovering services: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("service %s not found", serviceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charID})
	if err != nil {
		return fmt.Errorf("discovering characteristics: %w", err)
	}
	if len(chars) == 0 {
		return fmt.Errorf("characteristic %s not found", charUUID)
	}

	if _, err := chars[0].WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("writing characteristic: %w", err)
	}
	return nil
}

func (l *tinygoLink) Close() error {
	return l.device.Disconnect()
}
