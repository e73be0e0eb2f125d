package policy

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vinayprograms/sessionkit/api"
	skerrors "github.com/vinayprograms/sessionkit/errors"
)

// Timeout bounds in minutes.
const (
	MinMinutes     = 1
	MaxMinutes     = 480
	DefaultMinutes = 30
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("policy source already started")
	ErrNotStarted     = errors.New("policy source not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Timeout is the inactivity timeout policy.
type Timeout struct {
	Minutes int
}

// Default returns the built-in policy.
func Default() Timeout {
	return Timeout{Minutes: DefaultMinutes}
}

// Duration returns the timeout as a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t.Minutes) * time.Minute
}

// Validate checks that minutes lies within the accepted range.
func Validate(minutes int) error {
	if minutes < MinMinutes || minutes > MaxMinutes {
		return skerrors.New(skerrors.ErrCodeOutOfRange, "session timeout out of range",
			skerrors.WithMetadata("minutes", strconv.Itoa(minutes)),
			skerrors.WithMetadata("min", strconv.Itoa(MinMinutes)),
			skerrors.WithMetadata("max", strconv.Itoa(MaxMinutes)))
	}
	return nil
}

// SettingsFetcher reads system settings from the backend.
type SettingsFetcher interface {
	FetchSettings(ctx context.Context, token string) (api.Settings, error)
}

// ChangeFunc is called after the held policy changes. Calls are serialized
// and old is always the policy passed as new to the previous call.
type ChangeFunc func(old, new Timeout)
