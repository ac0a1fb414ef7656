// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package adis

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Transport performs one chip-select framed, full-duplex SPI transfer.
// len(r) must equal len(w).
type Transport interface {
	Tx(w, r []byte) error
	Close() error
}

// OpenFunc opens a Transport for a device path.
type OpenFunc func(path string, speedHz int64) (Transport, error)

// OpenTransport picks the transport from the path: native spidev buses go
// through periph, anything else is treated as a USB-ISS bridge tty.
func OpenTransport(path string, speedHz int64) (Transport, error) {
	if strings.HasPrefix(path, "/dev/spidev") || strings.HasPrefix(path, "SPI") {
		return OpenSPI(path, speedHz)
	}
	return OpenUSBISS(path, speedHz)
}

// The device needs a stall time between 16-bit transfers.
const spiStall = 20 * time.Microsecond

type spiTransport struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPI connects to the IMU on a native SPI bus in mode 3.
func OpenSPI(path string, speedHz int64) (Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p, err := spireg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spi open %s: %w", path, err)
	}
	c, err := p.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("spi connect %s: %w", path, err)
	}
	return &spiTransport{port: p, conn: c}, nil
}

func (t *spiTransport) Tx(w, r []byte) error {
	if err := t.conn.Tx(w, r); err != nil {
		return err
	}
	time.Sleep(spiStall)
	return nil
}

func (t *spiTransport) Close() error {
	return t.port.Close()
}
