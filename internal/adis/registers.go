// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package adis

// ADIS16470 user register addresses (lower byte of each 16-bit register).
const (
	RegDiagStat  byte = 0x02
	RegXGyroLow  byte = 0x04
	RegXGyroOut  byte = 0x06
	RegYGyroLow  byte = 0x08
	RegYGyroOut  byte = 0x0A
	RegZGyroLow  byte = 0x0C
	RegZGyroOut  byte = 0x0E
	RegXAcclLow  byte = 0x10
	RegXAcclOut  byte = 0x12
	RegYAcclLow  byte = 0x14
	RegYAcclOut  byte = 0x16
	RegZAcclLow  byte = 0x18
	RegZAcclOut  byte = 0x1A
	RegTempOut   byte = 0x1C
	RegTimeStamp byte = 0x1E
	RegDataCntr  byte = 0x22
	RegFiltCtrl  byte = 0x5C
	RegRangMdl   byte = 0x5E
	RegMscCtrl   byte = 0x60
	RegUpScale   byte = 0x62
	RegDecRate   byte = 0x64
	RegNullCnfg  byte = 0x66
	RegGlobCmd   byte = 0x68
	RegFirmRev   byte = 0x6C
	RegFirmDM    byte = 0x6E
	RegFirmY     byte = 0x70
	RegProdID    byte = 0x72
	RegSerialNum byte = 0x74
)

// GLOB_CMD bits.
const (
	GlobCmdBiasCorrectionUpdate uint16 = 1 << 0
	GlobCmdFactoryRestore       uint16 = 1 << 1
	GlobCmdFlashUpdate          uint16 = 1 << 2
	GlobCmdSelfTest             uint16 = 1 << 5
	GlobCmdSoftwareReset        uint16 = 1 << 7
)

// ProductID is the PROD_ID value of an ADIS16470 (decimal 16470).
const ProductID uint16 = 16470

// DefaultBiasEstimationTime enables gyro X/Y/Z bias estimation with a
// time base setting of 0xA in NULL_CNFG.
const DefaultBiasEstimationTime uint16 = 0x070a

// burstCmd starts a burst read when written to the device.
const burstCmd byte = 0x68

// burstWords is the number of 16-bit words the device returns after burstCmd:
// DIAG_STAT, X/Y/Z_GYRO_OUT, X/Y/Z_ACCL_OUT, TEMP_OUT, DATA_CNTR, checksum.
const burstWords = 10

// RegisterInfo describes one user register for dump and debug tools.
type RegisterInfo struct {
	Address     byte   `json:"address"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Access      string `json:"access"` // "R", "W", "RW"
	Default     string `json:"default,omitempty"`
}

// RegisterMap returns the identification, status and configuration
// registers. Output data registers are left out; they are read by Update.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: RegDiagStat, Name: "DIAG_STAT", Description: "Diagnostic and operational status", Access: "R", Default: "0x0000"},
		{Address: RegTimeStamp, Name: "TIME_STAMP", Description: "Time stamp of last sync pulse", Access: "R"},
		{Address: RegDataCntr, Name: "DATA_CNTR", Description: "Data update counter", Access: "R"},
		{Address: RegFiltCtrl, Name: "FILT_CTRL", Description: "Bartlett window FIR filter size", Access: "RW", Default: "0x0000"},
		{Address: RegRangMdl, Name: "RANG_MDL", Description: "Gyro measurement range", Access: "R"},
		{Address: RegMscCtrl, Name: "MSC_CTRL", Description: "Miscellaneous control (sync, data ready)", Access: "RW", Default: "0x00C1"},
		{Address: RegUpScale, Name: "UP_SCALE", Description: "Clock scale factor, scaled sync mode", Access: "RW", Default: "0x07D0"},
		{Address: RegDecRate, Name: "DEC_RATE", Description: "Decimation rate", Access: "RW", Default: "0x0000"},
		{Address: RegNullCnfg, Name: "NULL_CNFG", Description: "Auto-null configuration (bias estimation time)", Access: "RW", Default: "0x070A"},
		{Address: RegGlobCmd, Name: "GLOB_CMD", Description: "Global commands", Access: "W"},
		{Address: RegFirmRev, Name: "FIRM_REV", Description: "Firmware revision", Access: "R"},
		{Address: RegFirmDM, Name: "FIRM_DM", Description: "Firmware programming date, day and month", Access: "R"},
		{Address: RegFirmY, Name: "FIRM_Y", Description: "Firmware programming date, year", Access: "R"},
		{Address: RegProdID, Name: "PROD_ID", Description: "Product identification", Access: "R", Default: "0x4056"},
		{Address: RegSerialNum, Name: "SERIAL_NUM", Description: "Serial number", Access: "R"},
	}
}
