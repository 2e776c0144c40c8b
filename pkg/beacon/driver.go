// Package beacon holds the proximity-beacon hardware capability consumed by the
// scanner, together with the drivers that implement it.
package beacon

import (
	"context"
	"errors"
	"time"
)

// State is the adapter power/permission state reported by the platform.
type State string

const (
	StateUnknown      State = "unknown"
	StateOff          State = "off"
	StateOn           State = "on"
	StateUnauthorized State = "unauthorized"
	StateUnsupported  State = "unsupported"
	StateResetting    State = "resetting"
)

// Ready reports whether discovery can start in this state.
func (s State) Ready() bool {
	return s == StateOn
}

// Transient reports whether the state is expected to settle on its own.
func (s State) Transient() bool {
	return s == StateUnknown || s == StateResetting
}

// Detection is a single advertisement sighting.
type Detection struct {
	BeaconID       string    `json:"beacon_id"`
	SignalStrength int       `json:"signal_strength"`
	Timestamp      time.Time `json:"timestamp"`
}

// Callbacks receive discovery output. OnTimeout fires when the platform ends a
// discovery window on its own; OnError when discovery fails mid-stream.
type Callbacks struct {
	OnEvent   func(Detection)
	OnTimeout func()
	OnError   func(error)
}

// Driver is the hardware capability. Filtering by filterIDs is an optimisation
// a driver may ignore. StartDiscovery blocks while a stopped stream is still
// tearing down and returns ErrAlreadyActive only for a stream that is running.
type Driver interface {
	State() State
	RequestPermission(ctx context.Context) (bool, error)
	StartDiscovery(ctx context.Context, filterIDs []string, cb Callbacks) error
	StopDiscovery() error
	SubscribeState(fn func(State)) (unsubscribe func())
}

var (
	ErrNotReady      = errors.New("beacon adapter not ready")
	ErrAlreadyActive = errors.New("discovery already active")
)
