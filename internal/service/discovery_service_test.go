package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beacon-attendance/pkg/beacon"
)

func TestDiscoveryServiceDropsWeakSignals(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	metrics := NewMetricsService()
	svc := NewDiscoveryService(driver, -80, metrics, nil)

	var got []string
	_, err := svc.StartDiscovery(context.Background(), []string{"a"}, func(d beacon.Detection) {
		got = append(got, d.BeaconID)
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, driver.Filter())

	driver.Emit("near", -60)
	driver.Emit("far", -95)
	assert.Equal(t, []string{"near"}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.detections.WithLabelValues(DetectionWeakSignal)))
}

func TestDiscoveryServiceSingleStream(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	svc := NewDiscoveryService(driver, -100, nil, nil)
	ctx := context.Background()

	stop, err := svc.StartDiscovery(ctx, nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = svc.StartDiscovery(ctx, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, driver.Starts())
	assert.True(t, svc.Active())

	stop()
	svc.StopDiscovery()
	assert.False(t, svc.Active())
	assert.Equal(t, 1, driver.Stops())
}

func TestDiscoveryServiceNotReady(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOff)
	svc := NewDiscoveryService(driver, -100, nil, nil)

	_, err := svc.StartDiscovery(context.Background(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, beacon.ErrNotReady)
	assert.False(t, svc.Active())
}

func TestDiscoveryServiceTimeoutAndErrorEndStream(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	svc := NewDiscoveryService(driver, -100, nil, nil)
	ctx := context.Background()

	timeouts := 0
	var streamErr error
	_, err := svc.StartDiscovery(ctx, nil, nil, func() { timeouts++ }, func(err error) { streamErr = err })
	require.NoError(t, err)
	driver.ExpireWindow()
	assert.Equal(t, 1, timeouts)
	assert.False(t, svc.Active())

	_, err = svc.StartDiscovery(ctx, nil, nil, func() { timeouts++ }, func(err error) { streamErr = err })
	require.NoError(t, err)
	boom := errors.New("radio fault")
	driver.Fail(boom)
	assert.ErrorIs(t, streamErr, boom)
	assert.False(t, svc.Active())
}

func TestDiscoveryServiceRejectsStreamItDoesNotOwn(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	require.NoError(t, driver.StartDiscovery(context.Background(), nil, beacon.Callbacks{}))
	svc := NewDiscoveryService(driver, -100, nil, nil)

	_, err := svc.StartDiscovery(context.Background(), nil, nil, nil, nil)
	assert.ErrorIs(t, err, beacon.ErrAlreadyActive)
	assert.False(t, svc.Active())
}

func TestDiscoveryServiceRestartWaitsForTeardown(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	driver.SetTeardownDelay(30 * time.Millisecond)
	svc := NewDiscoveryService(driver, -100, nil, nil)
	ctx := context.Background()

	var got []string
	onEvent := func(d beacon.Detection) { got = append(got, d.BeaconID) }
	_, err := svc.StartDiscovery(ctx, nil, onEvent, nil, nil)
	require.NoError(t, err)
	svc.StopDiscovery()
	assert.True(t, driver.TearingDown())

	_, err = svc.StartDiscovery(ctx, nil, onEvent, nil, nil)
	require.NoError(t, err)
	assert.True(t, svc.Active())
	assert.True(t, driver.Active())
	assert.Equal(t, 2, driver.Starts())
	assert.True(t, driver.Emit("near", -60))
	assert.Equal(t, []string{"near"}, got)
}

func TestDiscoveryServiceRestartGivesUpOnStuckTeardown(t *testing.T) {
	driver := beacon.NewSimulatedDriver(beacon.StateOn)
	driver.SetTeardownDelay(time.Second)
	svc := NewDiscoveryService(driver, -100, nil, nil)

	_, err := svc.StartDiscovery(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	svc.StopDiscovery()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.StartDiscovery(ctx, nil, nil, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, svc.Active())
	assert.Equal(t, 1, driver.Starts())
}
