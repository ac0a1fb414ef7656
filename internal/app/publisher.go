// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

// Publisher receives every frame the producer emits.
type Publisher interface {
	PublishIMU(s imu.Sample)
	PublishTemperature(t imu.Temperature)
}

// FanOut forwards frames to every added sink, in the order they were added.
type FanOut struct {
	mu    sync.RWMutex
	sinks []Publisher
}

// Add registers another sink. Safe to call while frames are flowing.
func (f *FanOut) Add(p Publisher) {
	f.mu.Lock()
	f.sinks = append(f.sinks, p)
	f.mu.Unlock()
}

func (f *FanOut) PublishIMU(s imu.Sample) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.sinks {
		p.PublishIMU(s)
	}
}

func (f *FanOut) PublishTemperature(t imu.Temperature) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.sinks {
		p.PublishTemperature(t)
	}
}

const (
	publishTimeout = 2 * time.Second
	// pendingPublishes bounds how many in-flight tokens are tracked for
	// error reporting. Beyond that, tokens are not waited on.
	pendingPublishes = 64
)

type pendingPublish struct {
	topic string
	token mqtt.Token
}

// MQTTPublisher sends frames to the broker with QoS 0, not retained.
// Publishing never blocks the acquisition loop; delivery errors are logged
// by a single background goroutine until Close.
type MQTTPublisher struct {
	client    mqtt.Client
	codec     Codec
	imuTopic  string
	tempTopic string

	pending   chan pendingPublish
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewMQTTPublisher(client mqtt.Client, codec Codec, topics config.TopicsConfig) *MQTTPublisher {
	p := &MQTTPublisher{
		client:    client,
		codec:     codec,
		imuTopic:  topics.IMU,
		tempTopic: topics.Temperature,
		pending:   make(chan pendingPublish, pendingPublishes),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.drain()
	return p
}

func (p *MQTTPublisher) PublishIMU(s imu.Sample) {
	p.publish(p.imuTopic, s)
}

func (p *MQTTPublisher) PublishTemperature(t imu.Temperature) {
	p.publish(p.tempTopic, t)
}

// Close stops tracking outstanding publishes. Frames published afterwards
// are still sent but their outcome is not logged.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	<-p.stopped
}

func (p *MQTTPublisher) publish(topic string, v any) {
	payload, err := p.codec.Marshal(v)
	if err != nil {
		log.WithField("topic", topic).Errorf("%s marshal error: %v", p.codec.Name(), err)
		return
	}
	token := p.client.Publish(topic, 0, false, payload)
	select {
	case p.pending <- pendingPublish{topic: topic, token: token}:
	default:
		// Broker is not keeping up; the frame is sent untracked.
	}
}

func (p *MQTTPublisher) drain() {
	defer close(p.stopped)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	for {
		var pp pendingPublish
		select {
		case <-p.done:
			return
		case pp = <-p.pending:
		}
		timer.Reset(publishTimeout)
		select {
		case <-p.done:
			return
		case <-pp.token.Done():
			if err := pp.token.Error(); err != nil {
				log.WithField("topic", pp.topic).Errorf("MQTT publish error: %v", err)
			}
		case <-timer.C:
			log.WithField("topic", pp.topic).Warn("MQTT publish timed out")
		}
	}
}
