// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/adis_imu/internal/app"
	"github.com/relabs-tech/adis_imu/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "imu_node",
	Short: "ADIS16470 IMU node (IMU -> MQTT)",
	Long: `imu_node polls an ADIS16470 and publishes IMU and temperature frames.
Configuration is resolved in this order, later wins:
1. defaults
2. config file: --config, then ADIS_CONFIG, then ./adis.yaml, /etc/adis/adis.yaml
3. ADIS_* environment variables
4. command line flags
`,
	Example:      `  imu_node --device /dev/spidev0.0 --rate 200 --burst-mode=false`,
	SilenceUsage: true,
	RunE:         runNode,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "init create a configuration template",
	Long: `init writes the default configuration as YAML.
If --print is present the template goes to stdout, otherwise to --output.
An existing file is only replaced with --yes.
`,
	Example: `  imu_node init --print
  imu_node init -o /etc/adis/adis.yaml -y`,
	RunE: runInit,
}

func nodeFlags(cmd *cobra.Command) {
	d := config.Defaults()
	f := cmd.Flags()
	f.String("config", "", "configuration file path")
	f.String("device", d.Device, "device path (/dev/ttyACM* for USB-ISS, /dev/spidev* for native SPI)")
	f.String("frame-id", d.FrameID, "frame id stamped on every frame")
	f.Bool("burst-mode", d.BurstMode, "use burst reads instead of register reads")
	f.Float64("rate", d.Rate, "polling rate in Hz")
	f.Bool("publish-temperature", d.PublishTemperature, "publish temperature frames")
	f.String("encoding", d.PayloadEncoding, "payload encoding: json or msgpack")
	f.String("broker", d.MQTT.Broker, "MQTT broker URL")
	f.Bool("web", d.Web.Enabled, "serve the web monitor")
	f.String("listen", d.Web.Listen, "web monitor listen address")
	f.Bool("display", d.Display.Enabled, "drive the SSD1306 display")
	f.Bool("debug", false, "toggle debug logging")
}

func runNode(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.InitGlobal(configPath, cmd.Flags()); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.RunIMUProducer(ctx, cfg)
}

func runInit(cmd *cobra.Command, _ []string) error {
	printFlag, _ := cmd.Flags().GetBool("print")
	outputPath, _ := cmd.Flags().GetString("output")
	overwrite, _ := cmd.Flags().GetBool("yes")

	b, err := config.Template()
	if err != nil {
		return err
	}
	if printFlag {
		fmt.Print(string(b))
		return nil
	}

	if _, err := os.Stat(outputPath); err == nil && !overwrite {
		return fmt.Errorf("%s exists, use --yes to overwrite", outputPath)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(outputPath, b, 0o644); err != nil {
		return err
	}
	log.Infof("configuration template written to %s", outputPath)
	return nil
}

func main() {
	nodeFlags(rootCmd)

	initCmd.Flags().Bool("print", false, "print config to stdout")
	initCmd.Flags().BoolP("yes", "y", false, "overwrite")
	initCmd.Flags().StringP("output", "o", config.DefaultConfigName+".yaml", "output file")
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
