// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"github.com/relabs-tech/adis_imu/internal/adis"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

// Driver is the register-level IMU driver the node talks to. Update and
// UpdateBurst refresh the values returned by Latest on success.
type Driver interface {
	OpenPort(path string) error
	ClosePort() error
	ProductID() (uint16, error)
	SetBiasEstimationTime(v uint16) error
	UpdateBurst() error
	Update() error
	BiasCorrectionUpdate() error
	Latest() imu.Readings
}

var _ Driver = (*adis.Device)(nil)
