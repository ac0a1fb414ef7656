// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/adis_imu/internal/config"
)

// BiasRequest asks the node for a bias correction update. Both fields are
// optional: an empty payload is a valid request.
type BiasRequest struct {
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	ReplyTo string `json:"reply_to,omitempty" msgpack:"reply_to,omitempty"`
}

// BiasResponse carries the RecalibrationResult back, tagged with the request id.
type BiasResponse struct {
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message" msgpack:"message"`
}

// BiasService answers bias estimate requests arriving over MQTT.
type BiasService struct {
	rec           Recalibrator
	codec         Codec
	requestTopic  string
	responseTopic string
}

func NewBiasService(rec Recalibrator, codec Codec, topics config.TopicsConfig) *BiasService {
	return &BiasService{
		rec:           rec,
		codec:         codec,
		requestTopic:  topics.BiasRequest,
		responseTopic: topics.BiasResponse,
	}
}

// Subscribe registers the request handler on client.
func (s *BiasService) Subscribe(client mqtt.Client) error {
	token := client.Subscribe(s.requestTopic, 0, s.handle)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.WithField("topic", s.requestTopic).Info("bias estimate service ready")
	return nil
}

func (s *BiasService) handle(client mqtt.Client, msg mqtt.Message) {
	var req BiasRequest
	if len(msg.Payload()) > 0 {
		if err := s.codec.Unmarshal(msg.Payload(), &req); err != nil {
			log.WithField("topic", msg.Topic()).Warnf("bias request %s unmarshal error: %v", s.codec.Name(), err)
			return
		}
	}

	topic, resp := s.Respond(req)
	payload, err := s.codec.Marshal(resp)
	if err != nil {
		log.WithField("topic", topic).Errorf("bias response marshal error: %v", err)
		return
	}
	// Answered from the client's callback goroutine: do not wait on the token.
	client.Publish(topic, 0, false, payload)
}

// Respond runs the recalibration for req and returns the reply topic and body.
func (s *BiasService) Respond(req BiasRequest) (string, BiasResponse) {
	log.WithField("id", req.ID).Info("bias estimate requested")
	res := s.rec.Recalibrate()
	topic := req.ReplyTo
	if topic == "" {
		topic = s.responseTopic
	}
	return topic, BiasResponse{ID: req.ID, Success: res.Success, Message: res.Message}
}

// RequestBiasEstimate asks a running node for a bias correction update and
// waits for its answer or for ctx to end.
func RequestBiasEstimate(ctx context.Context, client mqtt.Client, cfg *config.Config) (BiasResponse, error) {
	codec, err := NewCodec(cfg.PayloadEncoding)
	if err != nil {
		return BiasResponse{}, err
	}

	req := BiasRequest{ID: uuid.NewString(), ReplyTo: cfg.Topics.BiasResponse}
	replies := make(chan BiasResponse, 1)

	token := client.Subscribe(req.ReplyTo, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var resp BiasResponse
		if err := codec.Unmarshal(msg.Payload(), &resp); err != nil {
			log.WithField("topic", msg.Topic()).Warnf("bias response unmarshal error: %v", err)
			return
		}
		if resp.ID != req.ID {
			return
		}
		select {
		case replies <- resp:
		default:
		}
	})
	token.Wait()
	if token.Error() != nil {
		return BiasResponse{}, fmt.Errorf("subscribe %s: %w", req.ReplyTo, token.Error())
	}
	defer client.Unsubscribe(req.ReplyTo)

	payload, err := codec.Marshal(req)
	if err != nil {
		return BiasResponse{}, err
	}
	token = client.Publish(cfg.Topics.BiasRequest, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		return BiasResponse{}, fmt.Errorf("publish %s: %w", cfg.Topics.BiasRequest, token.Error())
	}
	log.WithField("id", req.ID).Debug("bias estimate request sent")

	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		return BiasResponse{}, fmt.Errorf("waiting for bias response %s: %w", req.ID, ctx.Err())
	}
}
