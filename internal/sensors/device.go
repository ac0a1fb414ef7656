// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/adis_imu/internal/adis"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

var (
	ErrPortUnavailable  = errors.New("port unavailable")
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrNotReady         = errors.New("device not ready")
)

// OpenError describes a failed open attempt. Kind is ErrPortUnavailable or
// ErrIdentityMismatch.
type OpenError struct {
	Path     string
	Kind     error
	Expected uint16
	Actual   uint16
	Err      error
}

func (e *OpenError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrIdentityMismatch) && e.Err != nil:
		return fmt.Sprintf("open %s: %v: product id read: %v", e.Path, e.Kind, e.Err)
	case errors.Is(e.Kind, ErrIdentityMismatch):
		return fmt.Sprintf("open %s: %v: found product id %d, expected %d", e.Path, e.Kind, e.Actual, e.Expected)
	case e.Err != nil:
		return fmt.Sprintf("open %s: %v: %v", e.Path, e.Kind, e.Err)
	default:
		return fmt.Sprintf("open %s: %v", e.Path, e.Kind)
	}
}

func (e *OpenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ReadMode selects the driver read strategy.
type ReadMode int

const (
	ModeBurst ReadMode = iota
	ModeNormal
)

func (m ReadMode) String() string {
	if m == ModeBurst {
		return "burst"
	}
	return "normal"
}

// ReadError is a failed acquisition cycle.
type ReadError struct {
	Mode ReadMode
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s read: %v", e.Mode, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// OpenOptions configures Open.
type OpenOptions struct {
	Path               string
	ExpectedProductID  uint16
	BiasEstimationTime uint16
	// Settle is how long to wait after opening the port before talking to the device.
	Settle time.Duration
}

// DefaultSettle lets the SPI link come up before the identification read.
const DefaultSettle = 10 * time.Millisecond

// Handle is an open IMU. Every driver call goes through mu, so the
// acquisition loop and the bias service never touch the device at once.
type Handle struct {
	mu     sync.Mutex
	drv    Driver
	path   string
	closed bool
}

// Open opens the port, verifies the product id and programs the bias
// estimation time. On identity mismatch the port is closed again.
func Open(drv Driver, opts OpenOptions) (*Handle, error) {
	if opts.ExpectedProductID == 0 {
		opts.ExpectedProductID = adis.ProductID
	}
	if opts.BiasEstimationTime == 0 {
		opts.BiasEstimationTime = adis.DefaultBiasEstimationTime
	}

	if err := drv.OpenPort(opts.Path); err != nil {
		return nil, &OpenError{Path: opts.Path, Kind: ErrPortUnavailable, Err: err}
	}

	time.Sleep(opts.Settle)

	pid, err := drv.ProductID()
	if err != nil || pid != opts.ExpectedProductID {
		if cerr := drv.ClosePort(); cerr != nil {
			log.WithField("device", opts.Path).Warnf("close after identity check: %v", cerr)
		}
		return nil, &OpenError{
			Path:     opts.Path,
			Kind:     ErrIdentityMismatch,
			Expected: opts.ExpectedProductID,
			Actual:   pid,
			Err:      err,
		}
	}
	log.WithField("device", opts.Path).Infof("Product ID: %d", pid)

	if err := drv.SetBiasEstimationTime(opts.BiasEstimationTime); err != nil {
		log.WithField("device", opts.Path).Warnf("set bias estimation time 0x%04x: %v", opts.BiasEstimationTime, err)
	}

	return &Handle{drv: drv, path: opts.Path}, nil
}

// OpenWithRetry calls open until it succeeds, waiting interval between
// attempts. There is no attempt limit; only ctx stops it.
func OpenWithRetry(ctx context.Context, interval time.Duration, open func() (*Handle, error)) (*Handle, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := open()
		if err == nil {
			return h, nil
		}
		log.WithField("attempt", attempt).Errorf("%v", err)
		log.Warnf("Keep trying to open the device in %v period...", interval)

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Path returns the device path the handle was opened on.
func (h *Handle) Path() string {
	return h.path
}

// Read refreshes the driver readings with the given strategy and returns them.
func (h *Handle) Read(mode ReadMode) (imu.Readings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return imu.Readings{}, &ReadError{Mode: mode, Err: ErrNotReady}
	}
	var err error
	if mode == ModeBurst {
		err = h.drv.UpdateBurst()
	} else {
		err = h.drv.Update()
	}
	if err != nil {
		return imu.Readings{}, &ReadError{Mode: mode, Err: err}
	}
	return h.drv.Latest(), nil
}

// Recalibrate runs the driver bias correction update.
func (h *Handle) Recalibrate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrNotReady
	}
	return h.drv.BiasCorrectionUpdate()
}

// Close closes the port. Only the first call reaches the driver.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.drv.ClosePort()
}
