package domain

import "time"

type Generation string

const (
	GenerationPrimary Generation = "marspro"
	GenerationLegacy  Generation = "marshydro"
)

// Credentials belong to the host application and live only in memory.
type Credentials struct {
	Email    string
	Password string
}

// Session is an authenticated account on one API generation. The server
// never reports a TTL; expiry shows up as an error code on a later call.
type Session struct {
	Token      string
	AccountID  int64
	LoggedInAt time.Time
	Generation Generation
}

func (s Session) Valid() bool {
	return s.Token != ""
}
