package beacon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BluetoothDriver scans BLE advertisements through the host Bluetooth stack and
// reports iBeacon frames as detections.
type BluetoothDriver struct {
	adapter *bluetooth.Adapter
	window  time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	scanning    bool
	stopping    bool
	done        chan struct{}
	gen         int
	filter      map[string]struct{}
	windowTimer *time.Timer
	subscribers map[int]func(State)
	nextSub     int
}

// NewBluetoothDriver enables the default adapter. A window > 0 ends each
// discovery after that long and fires OnTimeout, mirroring mobile platforms
// that cap scan duration.
func NewBluetoothDriver(window time.Duration, logger *zap.Logger) *BluetoothDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &BluetoothDriver{
		adapter:     bluetooth.DefaultAdapter,
		window:      window,
		logger:      logger,
		state:       StateUnknown,
		subscribers: make(map[int]func(State)),
	}
	d.enable()
	return d
}

func (d *BluetoothDriver) enable() bool {
	if err := d.adapter.Enable(); err != nil {
		d.logger.Warn("bluetooth adapter enable failed", zap.Error(err))
		d.setState(StateUnsupported)
		return false
	}
	d.setState(StateOn)
	return true
}

// State implements Driver.
func (d *BluetoothDriver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// RequestPermission retries enabling the adapter; on desktop stacks that is
// where the OS permission prompt surfaces.
func (d *BluetoothDriver) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if d.State().Ready() {
		return true, nil
	}
	return d.enable(), nil
}

// StartDiscovery implements Driver.
func (d *BluetoothDriver) StartDiscovery(ctx context.Context, filterIDs []string, cb Callbacks) error {
	d.mu.Lock()
	for d.scanning && d.stopping {
		done := d.done
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}
	if !d.state.Ready() {
		d.mu.Unlock()
		return ErrNotReady
	}
	if d.scanning {
		d.mu.Unlock()
		return ErrAlreadyActive
	}
	d.scanning = true
	d.stopping = false
	d.gen++
	gen := d.gen
	done := make(chan struct{})
	d.done = done
	d.filter = nil
	if len(filterIDs) > 0 {
		d.filter = make(map[string]struct{}, len(filterIDs))
		for _, id := range filterIDs {
			d.filter[id] = struct{}{}
		}
	}
	if d.window > 0 {
		d.windowTimer = time.AfterFunc(d.window, func() {
			if d.halt(gen) && cb.OnTimeout != nil {
				cb.OnTimeout()
			}
		})
	}
	d.mu.Unlock()

	go func() {
		defer close(done)
		err := d.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			d.handleResult(result, cb)
		})
		d.mu.Lock()
		stopping := d.stopping
		d.scanning = false
		d.stopping = false
		if d.windowTimer != nil && d.gen == gen {
			d.windowTimer.Stop()
			d.windowTimer = nil
		}
		d.mu.Unlock()
		if err != nil && !stopping {
			d.logger.Warn("bluetooth scan ended with error", zap.Error(err))
			if cb.OnError != nil {
				cb.OnError(err)
			}
		}
	}()
	return nil
}

func (d *BluetoothDriver) handleResult(result bluetooth.ScanResult, cb Callbacks) {
	if cb.OnEvent == nil {
		return
	}
	for _, element := range result.ManufacturerData() {
		frame, ok := ParseIBeacon(element.CompanyID, element.Data)
		if !ok {
			continue
		}
		d.mu.Lock()
		_, wanted := d.filter[frame.ProximityUUID]
		pass := d.filter == nil || wanted
		d.mu.Unlock()
		if !pass {
			continue
		}
		cb.OnEvent(Detection{
			BeaconID:       frame.ProximityUUID,
			SignalStrength: int(result.RSSI),
			Timestamp:      time.Now(),
		})
	}
}

// StopDiscovery implements Driver. Stopping an idle driver is a no-op.
func (d *BluetoothDriver) StopDiscovery() error {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	d.halt(gen)
	return nil
}

// halt stops the scan started as generation gen and reports whether it was
// still running. The scan goroutine finishes teardown asynchronously.
func (d *BluetoothDriver) halt(gen int) bool {
	d.mu.Lock()
	if !d.scanning || d.stopping || d.gen != gen {
		d.mu.Unlock()
		return false
	}
	d.stopping = true
	if d.windowTimer != nil {
		d.windowTimer.Stop()
		d.windowTimer = nil
	}
	d.mu.Unlock()
	if err := d.adapter.StopScan(); err != nil {
		d.logger.Debug("bluetooth stop scan", zap.Error(err))
	}
	return true
}

// SubscribeState implements Driver.
func (d *BluetoothDriver) SubscribeState(fn func(State)) func() {
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

func (d *BluetoothDriver) setState(state State) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}
	d.state = state
	subs := make([]func(State), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}
