// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/relabs-tech/adis_imu/internal/adis"
	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/imu"
	"github.com/relabs-tech/adis_imu/internal/sensors"
)

// Recalibration result messages.
const (
	MsgBiasUpdateFailed  = "Bias correction update failed"
	MsgBiasUpdateSuccess = "Bias correction update success"
	MsgDeviceNotReady    = "Device not ready"
)

// DefaultRetryInterval is the wait between device open attempts.
const DefaultRetryInterval = time.Second

// Recalibrator triggers a gyroscope bias correction update.
type Recalibrator interface {
	Recalibrate() imu.RecalibrationResult
}

// State is the producer lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateOpening
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OpenFunc makes one attempt at opening the device.
type OpenFunc func() (*sensors.Handle, error)

// Producer owns the device handle, polls it at the configured rate and
// hands every sample to a Publisher.
type Producer struct {
	frameID     string
	mode        sensors.ReadMode
	publishTemp bool
	period      time.Duration
	pub         Publisher

	now           func() time.Time
	retryInterval time.Duration

	mu     sync.RWMutex
	handle *sensors.Handle
	state  State
}

// NewProducer builds a producer from cfg. The read strategy is fixed here.
func NewProducer(cfg *config.Config, pub Publisher) *Producer {
	mode := sensors.ModeNormal
	if cfg.BurstMode {
		mode = sensors.ModeBurst
	}
	return &Producer{
		frameID:       cfg.FrameID,
		mode:          mode,
		publishTemp:   cfg.PublishTemperature,
		period:        cfg.Period(),
		pub:           pub,
		now:           time.Now,
		retryInterval: DefaultRetryInterval,
	}
}

// State returns the current lifecycle stage.
func (p *Producer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Producer) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		log.Infof("imu producer: %s -> %s", prev, s)
	}
}

// Run opens the device, retrying until it succeeds, then polls it every
// period until ctx is done. The handle is closed on return.
func (p *Producer) Run(ctx context.Context, open OpenFunc) error {
	p.setState(StateOpening)
	h, err := sensors.OpenWithRetry(ctx, p.retryInterval, open)
	if err != nil {
		p.setState(StateClosed)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return h.Close()
	}
	p.handle = h
	p.mu.Unlock()
	p.setState(StateReady)
	log.WithField("device", h.Path()).Infof("polling every %v in %s mode", p.period, p.mode)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.Close()
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick runs one acquisition cycle. A failed read publishes nothing.
func (p *Producer) Tick() {
	p.mu.RLock()
	h := p.handle
	p.mu.RUnlock()
	if h == nil {
		return
	}

	r, err := h.Read(p.mode)
	if err != nil {
		if p.mode == sensors.ModeBurst {
			log.WithField("mode", p.mode).Errorf("Cannot update burst: %v", err)
		} else {
			log.WithField("mode", p.mode).Errorf("Cannot update: %v", err)
		}
		return
	}

	stamp := p.now()
	p.pub.PublishIMU(imu.NewSample(r, p.frameID, stamp))
	if p.publishTemp {
		p.pub.PublishTemperature(imu.NewTemperature(r, p.frameID, stamp))
	}
}

// Recalibrate runs a bias correction update on the open device.
func (p *Producer) Recalibrate() imu.RecalibrationResult {
	p.mu.RLock()
	h, state := p.handle, p.state
	p.mu.RUnlock()
	if h == nil || state != StateReady {
		log.Warn("bias estimate requested but device is not ready")
		return imu.RecalibrationResult{Success: false, Message: MsgDeviceNotReady}
	}

	if err := h.Recalibrate(); err != nil {
		if errors.Is(err, sensors.ErrNotReady) {
			return imu.RecalibrationResult{Success: false, Message: MsgDeviceNotReady}
		}
		log.Errorf("%s: %v", MsgBiasUpdateFailed, err)
		return imu.RecalibrationResult{Success: false, Message: MsgBiasUpdateFailed}
	}
	log.Info(MsgBiasUpdateSuccess)
	return imu.RecalibrationResult{Success: true, Message: MsgBiasUpdateSuccess}
}

// Close releases the device. Safe to call more than once.
func (p *Producer) Close() error {
	p.mu.Lock()
	h := p.handle
	p.handle = nil
	prev := p.state
	p.state = StateClosed
	p.mu.Unlock()

	if prev != StateClosed {
		log.Infof("imu producer: %s -> %s", prev, StateClosed)
	}
	if h == nil {
		return nil
	}
	return h.Close()
}

func logOptions(cfg *config.Config) {
	log.Infof("device: %s", cfg.Device)
	log.Infof("frame_id: %s", cfg.FrameID)
	log.Infof("burst_mode: %v", cfg.BurstMode)
	log.Infof("rate: %v Hz (period %v)", cfg.Rate, cfg.Period())
	log.Infof("publish_temperature: %v", cfg.PublishTemperature)
	log.Infof("bias_estimation_time: 0x%04x", cfg.BiasEstimationTime)
	log.Infof("spi_speed_hz: %d", cfg.SPISpeedHz)
	log.Infof("payload_encoding: %s", cfg.PayloadEncoding)
	log.Infof("mqtt: broker=%s client_id=%s", cfg.MQTT.Broker, cfg.MQTT.ClientID)
	log.Infof("topics: imu=%s temperature=%s bias_request=%s bias_response=%s",
		cfg.Topics.IMU, cfg.Topics.Temperature, cfg.Topics.BiasRequest, cfg.Topics.BiasResponse)
	log.Infof("web: enabled=%v listen=%s", cfg.Web.Enabled, cfg.Web.Listen)
	log.Infof("display: enabled=%v i2c_bus=%q i2c_addr=0x%02X", cfg.Display.Enabled, cfg.Display.I2CBus, cfg.Display.I2CAddr)
}

// RunIMUProducer runs the node until ctx is cancelled.
func RunIMUProducer(ctx context.Context, cfg *config.Config) (err error) {
	log.Println("starting adis-imu node (ADIS16470 -> MQTT)")
	logOptions(cfg)

	codec, err := NewCodec(cfg.PayloadEncoding)
	if err != nil {
		return err
	}

	fan := &FanOut{}
	producer := NewProducer(cfg, fan)
	bias := NewBiasService(producer, codec, cfg.Topics)

	// Subscriptions are made from the connect handler so they come back
	// after a reconnect.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(DefaultRetryInterval).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.WithField("broker", cfg.MQTT.Broker).Info("connected to MQTT")
			if err := bias.Subscribe(c); err != nil {
				log.WithField("topic", cfg.Topics.BiasRequest).Errorf("subscribe: %v", err)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("broker", cfg.MQTT.Broker).Warnf("MQTT connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	defer client.Disconnect(250)

	mqttPub := NewMQTTPublisher(client, codec, cfg.Topics)
	defer mqttPub.Close()
	fan.Add(mqttPub)

	var monitor *Monitor
	if cfg.Web.Enabled {
		monitor = NewMonitor(producer)
		if err := monitor.Start(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web monitor: %w", err)
		}
		fan.Add(monitor)
	}

	var display *Display
	if cfg.Display.Enabled {
		display, err = NewDisplay(cfg.Display, cfg.FrameID)
		if err != nil {
			// The node keeps running without the panel.
			log.Errorf("display: %v", err)
		} else {
			fan.Add(display)
			go display.Run(ctx)
		}
	}

	drv := adis.New(adis.Opts{SpeedHz: cfg.SPISpeedHz})
	open := func() (*sensors.Handle, error) {
		return sensors.Open(drv, sensors.OpenOptions{
			Path:               cfg.Device,
			ExpectedProductID:  adis.ProductID,
			BiasEstimationTime: cfg.BiasEstimationTime,
			Settle:             sensors.DefaultSettle,
		})
	}

	runErr := producer.Run(ctx, open)
	log.Println("imu producer: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = runErr
	if monitor != nil {
		err = multierr.Append(err, monitor.Shutdown(shutdownCtx))
	}
	if display != nil {
		err = multierr.Append(err, display.Halt())
	}
	return multierr.Append(err, producer.Close())
}
