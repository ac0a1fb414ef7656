// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/adis_imu/internal/app"
	"github.com/relabs-tech/adis_imu/internal/config"
)

func main() {
	configPath := pflag.String("config", "", "configuration file path")
	asJSON := pflag.Bool("json", false, "print JSON instead of a table")
	pflag.String("device", config.Defaults().Device, "device path")
	pflag.Parse()

	log.Println("starting ADIS16470 register dump")

	if err := config.InitGlobal(*configPath, pflag.CommandLine); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunRegisterDump(config.Get(), os.Stdout, *asJSON); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
