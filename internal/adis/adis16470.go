// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package adis drives an Analog Devices ADIS16470 IMU over SPI, either on a
// native spidev bus or through a USB-ISS bridge.
//
// A Device is not safe for concurrent use; callers serialize access.
package adis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/adis_imu/internal/imu"
)

const gravity = 9.80665

// Scale factors for 16-bit output words. 32-bit reads (OUT<<16 | LOW) use
// the same factors divided by 65536.
const (
	gyroScale  = 0.1 * math.Pi / 180 // rad/s per LSB
	accelScale = 1.25e-3 * gravity   // m/s² per LSB
	tempScale  = 0.1                 // °C per LSB
)

var (
	// ErrNotOpen is returned by every operation when no port is open.
	ErrNotOpen = errors.New("adis: port not open")
	// ErrChecksum is returned when a burst frame fails verification.
	ErrChecksum = errors.New("adis: burst checksum mismatch")
)

// Opts configures a Device.
type Opts struct {
	SpeedHz int64
	// Open overrides how transports are opened. Defaults to OpenTransport.
	Open OpenFunc
}

// DefaultOpts is 1 MHz SCK, within the burst-mode limit of the part.
var DefaultOpts = Opts{SpeedHz: 1_000_000}

// Device is an ADIS16470 on some Transport. Readings from the last
// successful Update or UpdateBurst are kept until the next one.
type Device struct {
	opts   Opts
	tr     Transport
	latest imu.Readings
}

// New returns a closed Device.
func New(opts Opts) *Device {
	if opts.SpeedHz == 0 {
		opts.SpeedHz = DefaultOpts.SpeedHz
	}
	if opts.Open == nil {
		opts.Open = OpenTransport
	}
	return &Device{opts: opts}
}

// OpenPort opens the transport at path.
func (d *Device) OpenPort(path string) error {
	if d.tr != nil {
		return fmt.Errorf("adis: port already open")
	}
	tr, err := d.opts.Open(path, d.opts.SpeedHz)
	if err != nil {
		return err
	}
	d.tr = tr
	return nil
}

// ClosePort closes the transport. Closing a closed Device is a no-op.
func (d *Device) ClosePort() error {
	if d.tr == nil {
		return nil
	}
	err := d.tr.Close()
	d.tr = nil
	return err
}

// IsOpen reports whether a transport is open.
func (d *Device) IsOpen() bool {
	return d.tr != nil
}

// ProductID reads PROD_ID.
func (d *Device) ProductID() (uint16, error) {
	return d.ReadRegister(RegProdID)
}

// SetBiasEstimationTime writes NULL_CNFG.
func (d *Device) SetBiasEstimationTime(v uint16) error {
	return d.WriteRegister(RegNullCnfg, v)
}

// BiasCorrectionUpdate latches the bias estimate of the last NULL_CNFG
// period into the bias correction registers.
func (d *Device) BiasCorrectionUpdate() error {
	return d.WriteRegister(RegGlobCmd, GlobCmdBiasCorrectionUpdate)
}

// Latest returns the readings of the last successful update.
func (d *Device) Latest() imu.Readings {
	return d.latest
}

// ReadRegister reads one 16-bit register. The value is clocked out during
// the transfer that follows the request.
func (d *Device) ReadRegister(addr byte) (uint16, error) {
	vals, err := d.readRegisters([]byte{addr})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// WriteRegister writes a 16-bit register as two byte writes, low byte first.
func (d *Device) WriteRegister(addr byte, v uint16) error {
	if d.tr == nil {
		return ErrNotOpen
	}
	r := make([]byte, 2)
	if err := d.tr.Tx([]byte{(addr & 0x7F) | 0x80, byte(v)}, r); err != nil {
		return fmt.Errorf("adis: write 0x%02X: %w", addr, err)
	}
	if err := d.tr.Tx([]byte{((addr + 1) & 0x7F) | 0x80, byte(v >> 8)}, r); err != nil {
		return fmt.Errorf("adis: write 0x%02X: %w", addr+1, err)
	}
	return nil
}

// readRegisters pipelines reads: each transfer requests the next register
// and returns the value requested by the previous one.
func (d *Device) readRegisters(addrs []byte) ([]uint16, error) {
	if d.tr == nil {
		return nil, ErrNotOpen
	}
	out := make([]uint16, len(addrs))
	r := make([]byte, 2)
	if err := d.tr.Tx([]byte{addrs[0] & 0x7F, 0}, r); err != nil {
		return nil, fmt.Errorf("adis: read 0x%02X: %w", addrs[0], err)
	}
	for i := range addrs {
		var next byte
		if i+1 < len(addrs) {
			next = addrs[i+1] & 0x7F
		}
		if err := d.tr.Tx([]byte{next, 0}, r); err != nil {
			return nil, fmt.Errorf("adis: read 0x%02X: %w", addrs[i], err)
		}
		out[i] = binary.BigEndian.Uint16(r)
	}
	return out, nil
}

var updateRegs = []byte{
	RegXGyroLow, RegXGyroOut, RegYGyroLow, RegYGyroOut, RegZGyroLow, RegZGyroOut,
	RegXAcclLow, RegXAcclOut, RegYAcclLow, RegYAcclOut, RegZAcclLow, RegZAcclOut,
	RegTempOut,
}

// Update reads gyro and accel as 32-bit values plus temperature, one
// register at a time.
func (d *Device) Update() error {
	v, err := d.readRegisters(updateRegs)
	if err != nil {
		return err
	}
	var next imu.Readings
	for i := 0; i < 3; i++ {
		next.Gyro[i] = float64(join32(v[2*i+1], v[2*i])) * gyroScale / 65536
		next.Accel[i] = float64(join32(v[6+2*i+1], v[6+2*i])) * accelScale / 65536
	}
	next.Temp = float64(int16(v[12])) * tempScale
	d.latest = next
	return nil
}

// UpdateBurst reads gyro, accel and temperature as 16-bit values in one
// transfer and verifies the frame checksum.
func (d *Device) UpdateBurst() error {
	if d.tr == nil {
		return ErrNotOpen
	}
	w := make([]byte, 2+2*burstWords)
	w[0] = burstCmd
	r := make([]byte, len(w))
	if err := d.tr.Tx(w, r); err != nil {
		return fmt.Errorf("adis: burst: %w", err)
	}
	next, err := decodeBurst(r[2:])
	if err != nil {
		return err
	}
	d.latest = next
	return nil
}

// decodeBurst decodes the ten burst words. The last word is the sum of the
// preceding 18 bytes.
func decodeBurst(frame []byte) (imu.Readings, error) {
	var sum uint16
	for _, b := range frame[:2*(burstWords-1)] {
		sum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(frame[2*(burstWords-1):]); sum != want {
		return imu.Readings{}, fmt.Errorf("%w: got 0x%04X want 0x%04X", ErrChecksum, sum, want)
	}
	word := func(i int) int16 {
		return int16(binary.BigEndian.Uint16(frame[2*i:]))
	}
	var out imu.Readings
	for i := 0; i < 3; i++ {
		out.Gyro[i] = float64(word(1+i)) * gyroScale
		out.Accel[i] = float64(word(4+i)) * accelScale
	}
	out.Temp = float64(word(7)) * tempScale
	return out, nil
}

func join32(out, low uint16) int32 {
	return int32(uint32(out)<<16 | uint32(low))
}
