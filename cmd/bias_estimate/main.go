// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/adis_imu/internal/app"
	"github.com/relabs-tech/adis_imu/internal/config"
)

func main() {
	configPath := pflag.String("config", "", "configuration file path")
	timeout := pflag.Duration("timeout", 5*time.Second, "how long to wait for the node to answer")
	pflag.String("broker", config.Defaults().MQTT.Broker, "MQTT broker URL")
	pflag.String("encoding", config.Defaults().PayloadEncoding, "payload encoding: json or msgpack")
	pflag.Parse()

	if err := config.InitGlobal(*configPath, pflag.CommandLine); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(fmt.Sprintf("%s-bias-%d", cfg.MQTT.ClientID, os.Getpid()))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
	}
	defer client.Disconnect(250)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := app.RequestBiasEstimate(ctx, client, cfg)
	if err != nil {
		log.Fatalf("bias estimate: %v", err)
	}
	fmt.Printf("success: %v\nmessage: %s\n", resp.Success, resp.Message)
	if !resp.Success {
		client.Disconnect(250)
		os.Exit(1)
	}
}
