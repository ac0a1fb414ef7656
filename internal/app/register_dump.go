// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/relabs-tech/adis_imu/internal/adis"
	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/sensors"
)

// RegisterReader reads one 16-bit device register.
type RegisterReader interface {
	ReadRegister(addr byte) (uint16, error)
}

// RegisterValue is one line of a register dump.
type RegisterValue struct {
	adis.RegisterInfo
	Value uint16 `json:"value"`
	Error string `json:"error,omitempty"`
}

// ReadRegisterMap reads every readable register in the map. A failed read
// is recorded on its line and the dump continues.
func ReadRegisterMap(r RegisterReader) ([]RegisterValue, error) {
	var errs error
	var out []RegisterValue
	for _, info := range adis.RegisterMap() {
		if !strings.Contains(info.Access, "R") {
			continue
		}
		rv := RegisterValue{RegisterInfo: info}
		v, err := r.ReadRegister(info.Address)
		if err != nil {
			rv.Error = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", info.Name, err))
		} else {
			rv.Value = v
		}
		out = append(out, rv)
	}
	return out, errs
}

// WriteRegisterDump prints values as an aligned table, or as JSON.
func WriteRegisterDump(w io.Writer, values []RegisterValue, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(values)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tNAME\tVALUE\tDEFAULT\tDESCRIPTION")
	for _, v := range values {
		val := fmt.Sprintf("0x%04X", v.Value)
		if v.Error != "" {
			val = "error: " + v.Error
		}
		fmt.Fprintf(tw, "0x%02X\t%s\t%s\t%s\t%s\n", v.Address, v.Name, val, v.Default, v.Description)
	}
	return tw.Flush()
}

// RunRegisterDump opens the configured device, dumps its registers to w and
// closes it again.
func RunRegisterDump(cfg *config.Config, w io.Writer, asJSON bool) (err error) {
	dev := adis.New(adis.Opts{SpeedHz: cfg.SPISpeedHz})
	if err := dev.OpenPort(cfg.Device); err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer func() {
		err = multierr.Append(err, dev.ClosePort())
	}()

	time.Sleep(sensors.DefaultSettle)

	values, readErr := ReadRegisterMap(dev)
	if readErr != nil {
		log.WithField("device", cfg.Device).Warnf("some registers could not be read: %v", readErr)
	}
	return WriteRegisterDump(w, values, asJSON)
}
