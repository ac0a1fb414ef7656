// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package adis

import (
	"errors"
	"fmt"
	"io"

	serial "github.com/jacobsa/go-serial/serial"
)

// USB-ISS command bytes.
const (
	issCmdMode byte = 0x5A
	issCmdSPI  byte = 0x61
	issSetMode byte = 0x02
	issSPIMode byte = 0x93 // SPI mode 3
	issAck     byte = 0xFF
	issClockHz      = 6_000_000
)

// ErrBridgeNack is returned when the USB-ISS bridge rejects a command.
var ErrBridgeNack = errors.New("usb-iss: command not acknowledged")

type usbissTransport struct {
	rw io.ReadWriteCloser
}

// OpenUSBISS opens a USB-ISS USB-to-SPI bridge (usually /dev/ttyACM0) and
// switches it to SPI mode 3.
func OpenUSBISS(path string, speedHz int64) (Transport, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              path,
		BaudRate:              230400,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("usb-iss open %s: %w", path, err)
	}
	t, err := newUSBISS(port, speedHz)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("usb-iss %s: %w", path, err)
	}
	return t, nil
}

func newUSBISS(rw io.ReadWriteCloser, speedHz int64) (*usbissTransport, error) {
	t := &usbissTransport{rw: rw}
	if _, err := rw.Write([]byte{issCmdMode, issSetMode, issSPIMode, clockDivisor(speedHz)}); err != nil {
		return nil, fmt.Errorf("set mode: %w", err)
	}
	ack := make([]byte, 2)
	if _, err := io.ReadFull(rw, ack); err != nil {
		return nil, fmt.Errorf("set mode ack: %w", err)
	}
	if ack[0] != issAck {
		return nil, fmt.Errorf("set mode (code 0x%02X): %w", ack[1], ErrBridgeNack)
	}
	return t, nil
}

// clockDivisor converts a SCK frequency into the bridge divisor,
// SCK = 6 MHz / (divisor + 1).
func clockDivisor(speedHz int64) byte {
	if speedHz <= 0 {
		speedHz = 1_000_000
	}
	div := issClockHz/speedHz - 1
	if div < 0 {
		div = 0
	}
	if div > 0xFF {
		div = 0xFF
	}
	return byte(div)
}

func (t *usbissTransport) Tx(w, r []byte) error {
	if len(w) != len(r) {
		return fmt.Errorf("usb-iss: tx length mismatch %d != %d", len(w), len(r))
	}
	cmd := make([]byte, 0, len(w)+1)
	cmd = append(cmd, issCmdSPI)
	cmd = append(cmd, w...)
	if _, err := t.rw.Write(cmd); err != nil {
		return fmt.Errorf("usb-iss write: %w", err)
	}
	resp := make([]byte, len(w)+1)
	if _, err := io.ReadFull(t.rw, resp); err != nil {
		return fmt.Errorf("usb-iss read: %w", err)
	}
	if resp[0] != issAck {
		return ErrBridgeNack
	}
	copy(r, resp[1:])
	return nil
}

func (t *usbissTransport) Close() error {
	return t.rw.Close()
}
