package beacon

import (
	"context"
	"sync"
	"time"
)

// SimulatedDriver is an in-process driver used in development mode and tests.
// Detections are injected with Emit and delivered only while discovery runs.
type SimulatedDriver struct {
	mu          sync.Mutex
	state       State
	grant       bool
	active      bool
	callbacks   Callbacks
	filter      []string
	starts      int
	stops       int
	teardown    time.Duration
	tearingDown chan struct{}
	subscribers map[int]func(State)
	nextSub     int
	now         func() time.Time
}

// NewSimulatedDriver returns a driver in the given initial state.
func NewSimulatedDriver(initial State) *SimulatedDriver {
	if initial == "" {
		initial = StateOn
	}
	return &SimulatedDriver{
		state:       initial,
		grant:       true,
		subscribers: make(map[int]func(State)),
		now:         time.Now,
	}
}

// State implements Driver.
func (d *SimulatedDriver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetPermissionResult controls the answer of the next permission prompts.
func (d *SimulatedDriver) SetPermissionResult(grant bool) {
	d.mu.Lock()
	d.grant = grant
	d.mu.Unlock()
}

// RequestPermission implements Driver. A granted prompt moves an unauthorized
// adapter to on.
func (d *SimulatedDriver) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	grant := d.grant
	changed := grant && d.state == StateUnauthorized
	if changed {
		d.state = StateOn
	}
	d.mu.Unlock()
	if changed {
		d.notify(StateOn)
	}
	return grant, nil
}

// SetTeardownDelay makes every stop finish asynchronously after delay, the way
// a radio stack releases the scanner some time after it was asked to.
func (d *SimulatedDriver) SetTeardownDelay(delay time.Duration) {
	d.mu.Lock()
	d.teardown = delay
	d.mu.Unlock()
}

// TearingDown reports whether a stopped stream is still releasing the radio.
func (d *SimulatedDriver) TearingDown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tearingDown != nil
}

// StartDiscovery implements Driver.
func (d *SimulatedDriver) StartDiscovery(ctx context.Context, filterIDs []string, cb Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.tearingDown != nil {
		done := d.tearingDown
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			d.mu.Lock()
			return ctx.Err()
		}
		d.mu.Lock()
	}
	if !d.state.Ready() {
		return ErrNotReady
	}
	if d.active {
		return ErrAlreadyActive
	}
	d.active = true
	d.callbacks = cb
	d.starts++
	d.filter = append([]string(nil), filterIDs...)
	return nil
}

// StopDiscovery implements Driver. Stopping an idle driver is a no-op.
func (d *SimulatedDriver) StopDiscovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.stops++
		d.endLocked()
	}
	return nil
}

// endLocked ends the running stream. With a teardown delay the radio stays
// busy until the delay elapses.
func (d *SimulatedDriver) endLocked() {
	d.active = false
	d.callbacks = Callbacks{}
	if d.teardown <= 0 || d.tearingDown != nil {
		return
	}
	done := make(chan struct{})
	d.tearingDown = done
	time.AfterFunc(d.teardown, func() {
		d.mu.Lock()
		if d.tearingDown == done {
			d.tearingDown = nil
		}
		d.mu.Unlock()
		close(done)
	})
}

// SubscribeState implements Driver.
func (d *SimulatedDriver) SubscribeState(fn func(State)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subscribers[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
}

// SetState changes the adapter state. Leaving the on state ends discovery the
// way a radio power-off does.
func (d *SimulatedDriver) SetState(state State) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}
	d.state = state
	if !state.Ready() && d.active {
		d.endLocked()
	}
	d.mu.Unlock()
	d.notify(state)
}

// Emit delivers a detection when discovery is active. It reports whether the
// detection reached a callback.
func (d *SimulatedDriver) Emit(beaconID string, signalStrength int) bool {
	return d.EmitAt(beaconID, signalStrength, d.now())
}

// EmitAt is Emit with an explicit timestamp.
func (d *SimulatedDriver) EmitAt(beaconID string, signalStrength int, at time.Time) bool {
	d.mu.Lock()
	if !d.active || d.callbacks.OnEvent == nil {
		d.mu.Unlock()
		return false
	}
	onEvent := d.callbacks.OnEvent
	d.mu.Unlock()
	onEvent(Detection{BeaconID: beaconID, SignalStrength: signalStrength, Timestamp: at})
	return true
}

// ExpireWindow ends the running discovery window and fires OnTimeout.
func (d *SimulatedDriver) ExpireWindow() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	onTimeout := d.callbacks.OnTimeout
	d.endLocked()
	d.mu.Unlock()
	if onTimeout != nil {
		onTimeout()
	}
}

// Fail reports a mid-stream error and ends discovery.
func (d *SimulatedDriver) Fail(err error) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	onError := d.callbacks.OnError
	d.endLocked()
	d.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// Filter returns the identifiers passed to the last StartDiscovery. The
// simulated radio hears every advertisement regardless.
func (d *SimulatedDriver) Filter() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.filter...)
}

// Active reports whether discovery is running.
func (d *SimulatedDriver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Starts returns how many times discovery was started.
func (d *SimulatedDriver) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

// Stops returns how many running discoveries were stopped.
func (d *SimulatedDriver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *SimulatedDriver) notify(state State) {
	d.mu.Lock()
	subs := make([]func(State), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}
