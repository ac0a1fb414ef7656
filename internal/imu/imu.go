// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// Vector3 is a three-axis value in physical units.
type Vector3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Quaternion is an orientation. The ADIS16470 does not estimate orientation,
// so published samples always carry Identity.
type Quaternion struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
	W float64 `json:"w" msgpack:"w"`
}

// Identity is the "no orientation" quaternion.
var Identity = Quaternion{X: 0, Y: 0, Z: 0, W: 1}

// Header is attached to every published frame.
type Header struct {
	FrameID string    `json:"frame_id" msgpack:"frame_id"`
	Stamp   time.Time `json:"stamp" msgpack:"stamp"`
}

// Sample is one acquisition result.
type Sample struct {
	Header             Header     `json:"header" msgpack:"header"`
	Orientation        Quaternion `json:"orientation" msgpack:"orientation"`
	AngularVelocity    Vector3    `json:"angular_velocity" msgpack:"angular_velocity"`       // rad/s
	LinearAcceleration Vector3    `json:"linear_acceleration" msgpack:"linear_acceleration"` // m/s²
}

// Temperature is the die temperature reported alongside a Sample.
type Temperature struct {
	Header      Header  `json:"header" msgpack:"header"`
	Temperature float64 `json:"temperature" msgpack:"temperature"` // °C
	Variance    float64 `json:"variance" msgpack:"variance"`
}

// Readings holds the most recent values decoded by a driver, already in
// m/s², rad/s and °C.
type Readings struct {
	Accel [3]float64
	Gyro  [3]float64
	Temp  float64
}

// RecalibrationResult is the response to a bias estimate request.
type RecalibrationResult struct {
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message" msgpack:"message"`
}

// NewSample builds a Sample from driver readings. Orientation is always Identity.
func NewSample(r Readings, frameID string, stamp time.Time) Sample {
	return Sample{
		Header:      Header{FrameID: frameID, Stamp: stamp},
		Orientation: Identity,
		AngularVelocity: Vector3{
			X: r.Gyro[0],
			Y: r.Gyro[1],
			Z: r.Gyro[2],
		},
		LinearAcceleration: Vector3{
			X: r.Accel[0],
			Y: r.Accel[1],
			Z: r.Accel[2],
		},
	}
}

// NewTemperature builds a Temperature frame. Variance is unknown and reported as zero.
func NewTemperature(r Readings, frameID string, stamp time.Time) Temperature {
	return Temperature{
		Header:      Header{FrameID: frameID, Stamp: stamp},
		Temperature: r.Temp,
		Variance:    0,
	}
}
