// Package lgled is the wire layer shared by both generations of the LG-LED
// cloud: the systemData fingerprint header, the double encoded instruction
// envelope and vendor status code handling.
package lgled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"marsctl/internal/domain"
	"marsctl/internal/infra"
)

const (
	HeaderSystemData = "systemData"
	CodeSuccess      = "000"
	DefaultTimeout   = 30 * time.Second
)

// Fingerprint is the fixed client description the server insists on. Field
// presence matters more than the values.
type Fingerprint struct {
	AppVersion  string
	OSType      string
	OSVersion   string
	DeviceModel string
	DeviceID    string
	NetType     string
	WifiName    string
	Timezone    string
	Language    string
}

func DefaultFingerprint() Fingerprint {
	return Fingerprint{
		AppVersion:  "1.3.2",
		OSType:      "android",
		OSVersion:   "14",
		DeviceModel: "SM-G991B",
		DeviceID:    "8c1f6a2e9b3d4c07",
		NetType:     "wifi",
		WifiName:    "unknown",
		Timezone:    "UTC",
		Language:    "English",
	}
}

type systemData struct {
	ReqID      string `json:"reqId"`
	AppVersion string `json:"appVersion"`
	OSType     string `json:"osType"`
	OSVersion  string `json:"osVersion"`
	DeviceType string `json:"deviceType"`
	DeviceID   string `json:"deviceId"`
	NetType    string `json:"netType"`
	WifiName   string `json:"wifiName"`
	Timestamp  int64  `json:"timestamp"`
	Timezone   string `json:"timezone"`
	Language   string `json:"language"`
	Token      string `json:"token,omitempty"`
}

// Instruction is the inner {method, params} call. On the wire it travels as
// a JSON string inside the outer body, never as a nested object.
type Instruction struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

func (in Instruction) Encode() (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding instruction %s: %w", in.Method, err)
	}
	return string(b), nil
}

// Envelope is the outer body carrying an encoded instruction.
type Envelope struct {
	Data string `json:"data"`
}

type Response struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("parsing response data: %w", err)
	}
	return nil
}

type Transport struct {
	baseURL      string
	httpClient   *http.Client
	fingerprint  Fingerprint
	expiredCodes map[string]bool
	newID        func() string
	now          func() time.Time
}

type Option func(*Transport)

func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithExpiredCodes sets the vendor codes treated as token expiry. The real
// value has never been confirmed, so it stays configurable.
func WithExpiredCodes(codes ...string) Option {
	return func(t *Transport) {
		t.expiredCodes = make(map[string]bool, len(codes))
		for _, c := range codes {
			t.expiredCodes[c] = true
		}
	}
}

func NewTransport(baseURL string, fp Fingerprint, opts ...Option) *Transport {
	t := &Transport{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		fingerprint:  fp,
		expiredCodes: map[string]bool{"102": true},
		newID:        func() string { return uuid.NewString() },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Call posts an instruction wrapped in an Envelope.
func (t *Transport) Call(ctx context.Context, path, token string, in Instruction) (*Response, error) {
	data, err := in.Encode()
	if err != nil {
		return nil, err
	}
	return t.Post(ctx, path, token, Envelope{Data: data})
}

// Post sends one request. Transport problems wrap domain.ErrTransport and
// non-success vendor codes come back as *domain.APIError. Nothing is retried
// here.
func (t *Transport) Post(ctx context.Context, path, token string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	header, err := t.systemData(token)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+strings.TrimPrefix(path, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSystemData, header)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", domain.ErrTransport, err)
	}

	switch {
	case infra.IsRetryableHTTPStatus(resp.StatusCode):
		return nil, fmt.Errorf("%w: server unavailable, http %d: %s", domain.ErrTransport, resp.StatusCode, truncate(raw, 200))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: http %d: %s", domain.ErrTransport, resp.StatusCode, truncate(raw, 200))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", domain.ErrTransport, err)
	}

	if out.Code != CodeSuccess {
		return &out, t.codeError(out)
	}

	return &out, nil
}

func (t *Transport) codeError(r Response) error {
	if t.expiredCodes[r.Code] {
		return domain.NewAPIError(r.Code, r.Msg, domain.ErrTokenExpired)
	}
	return domain.NewAPIError(r.Code, r.Msg, domain.ErrRejected)
}

func (t *Transport) systemData(token string) (string, error) {
	sd := systemData{
		ReqID:      t.newID(),
		AppVersion: t.fingerprint.AppVersion,
		OSType:     t.fingerprint.OSType,
		OSVersion:  t.fingerprint.OSVersion,
		DeviceType: t.fingerprint.DeviceModel,
		DeviceID:   t.fingerprint.DeviceID,
		NetType:    t.fingerprint.NetType,
		WifiName:   t.fingerprint.WifiName,
		Timestamp:  t.now().UnixMilli(),
		Timezone:   t.fingerprint.Timezone,
		Language:   t.fingerprint.Language,
		Token:      token,
	}
	b, err := json.Marshal(sd)
	if err != nil {
		return "", fmt.Errorf("encoding systemData: %w", err)
	}
	return string(b), nil
}

// AsAuthError turns a vendor rejection of a login into domain.ErrAuth while
// keeping the vendor message.
func AsAuthError(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s (code %s)", domain.ErrAuth, apiErr.Msg, apiErr.Code)
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
