// Package deploytest provides an in-memory deployment driver for tests.
package deploytest

import (
	"context"
	"sync"
	"time"

	"github.com/seantiz/urumi/internal/deploy"
)

// Driver is a deploy.Driver that records calls instead of touching a
// cluster. Zero value succeeds immediately.
type Driver struct {
	// Delay is how long Apply takes; it returns deploy.ErrTimeout if the
	// context expires first.
	Delay time.Duration
	// LogLines are written to the release's LogWriter before Apply returns.
	LogLines []string
	// ApplyFunc, if set, decides the outcome of Apply after Delay.
	ApplyFunc func(rel deploy.Release) (deploy.Result, error)
	// TeardownFunc, if set, decides the outcome of Teardown.
	TeardownFunc func(storeID string) (deploy.Result, error)

	mu        sync.Mutex
	applies   []deploy.Release
	teardowns []string
}

// Compile-time interface satisfaction check.
var _ deploy.Driver = (*Driver)(nil)

// Apply records rel and simulates a deployment.
func (d *Driver) Apply(ctx context.Context, rel deploy.Release) (deploy.Result, error) {
	d.mu.Lock()
	d.applies = append(d.applies, rel)
	d.mu.Unlock()

	if rel.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rel.Timeout)
		defer cancel()
	}

	for _, line := range d.LogLines {
		if rel.LogWriter != nil {
			rel.LogWriter(line)
		}
	}

	if d.Delay > 0 {
		timer := time.NewTimer(d.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return deploy.Result{ExitCode: -1}, deploy.ErrTimeout
		}
	}

	if d.ApplyFunc != nil {
		return d.ApplyFunc(rel)
	}
	return deploy.Result{}, nil
}

// Teardown records storeID and simulates removal.
func (d *Driver) Teardown(_ context.Context, storeID string, _ time.Duration) (deploy.Result, error) {
	d.mu.Lock()
	d.teardowns = append(d.teardowns, storeID)
	d.mu.Unlock()

	if d.TeardownFunc != nil {
		return d.TeardownFunc(storeID)
	}
	return deploy.Result{}, nil
}

// Applied returns every release passed to Apply, in call order.
func (d *Driver) Applied() []deploy.Release {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deploy.Release(nil), d.applies...)
}

// TornDown returns every store id passed to Teardown, in call order.
func (d *Driver) TornDown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.teardowns...)
}
