package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/adis_imu/internal/app"
	"github.com/relabs-tech/adis_imu/internal/config"
)

func main() {
	configPath := pflag.String("config", "", "configuration file path")
	pflag.String("broker", config.Defaults().MQTT.Broker, "MQTT broker URL")
	pflag.String("encoding", config.Defaults().PayloadEncoding, "payload encoding: json or msgpack")
	pflag.Parse()

	log.Println("starting adis-imu console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath, pflag.CommandLine); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, config.Get()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
