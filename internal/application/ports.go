package application

import (
	"context"

	"marsctl/internal/domain"
)

type Authenticator interface {
	Generation() domain.Generation
	Login(ctx context.Context, creds domain.Credentials) (domain.Session, error)
}

type DeviceLister interface {
	ListDevices(ctx context.Context, sess domain.Session, group domain.GroupTag) ([]domain.RawDevice, error)
}

type DeviceController interface {
	Activate(ctx context.Context, sess domain.Session, dev domain.Device) error
	Wake(ctx context.Context, sess domain.Session, dev domain.Device, shape domain.WakeShape) error
	Control(ctx context.Context, sess domain.Session, dev domain.Device, on bool, level int) error
	Status(ctx context.Context, sess domain.Session, dev domain.Device) (domain.DeviceStatus, error)
}

// CloudAPI is one generation of the vendor cloud.
type CloudAPI interface {
	Authenticator
	DeviceLister
	DeviceController
}

// LocalTransport drives a device without the cloud. Available may change at
// runtime.
type LocalTransport interface {
	Available() bool
	SendControl(ctx context.Context, dev domain.Device, on bool, level int) error
}

// SessionRunner runs a call with a valid session, handling token expiry.
type SessionRunner interface {
	Do(ctx context.Context, fn func(domain.Session) error) error
}
