package domain

import (
	"errors"
	"testing"
)

func TestControlIntent_WireLevel(t *testing.T) {
	tests := []struct {
		name   string
		intent ControlIntent
		want   int
	}{
		{"in range", ControlIntent{On: true, Level: 55}, 55},
		{"above range", ControlIntent{On: true, Level: 150}, 100},
		{"below range", ControlIntent{On: true, Level: -20}, 0},
		{"off ignores level", ControlIntent{On: false, Level: 80}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.intent.WireLevel(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	verified := Outcome{Result: ResultDone, Accepted: true, Verified: true}
	unverified := Outcome{Result: ResultDone, Accepted: true}
	failed := Outcome{Result: ResultFailed}

	if !verified.Succeeded() || verified.Unverified() {
		t.Errorf("verified outcome: %+v", verified)
	}
	if !unverified.Succeeded() || !unverified.Unverified() {
		t.Errorf("unverified outcome: %+v", unverified)
	}
	if failed.Succeeded() || failed.Unverified() {
		t.Errorf("failed outcome: %+v", failed)
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	expired := NewAPIError("102", "token invalid", ErrTokenExpired)
	if !errors.Is(expired, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", expired)
	}

	plain := NewAPIError("500", "busy", nil)
	if !errors.Is(plain, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", plain)
	}
	if plain.Error() != "vendor code 500: busy" {
		t.Errorf("message: got %q", plain.Error())
	}
}

func TestGroupTag(t *testing.T) {
	if AnyGroup.String() != "any" || Group(2).String() != "2" {
		t.Errorf("strings: got %s and %s", AnyGroup, Group(2))
	}
	if Group(0) == AnyGroup {
		t.Error("group 0 must differ from the wildcard")
	}
}
