package app

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/adis_imu/internal/imu"
)

func TestBiasServiceRespond(t *testing.T) {
	rec := &stubRecalibrator{res: imu.RecalibrationResult{Success: true, Message: MsgBiasUpdateSuccess}}
	svc := NewBiasService(rec, jsonCodec{}, testConfig().Topics)

	tests := []struct {
		name      string
		req       BiasRequest
		wantTopic string
	}{
		{"default reply topic", BiasRequest{ID: "a"}, "bias_estimate/response"},
		{"explicit reply topic", BiasRequest{ID: "b", ReplyTo: "clients/42/bias"}, "clients/42/bias"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, resp := svc.Respond(tt.req)
			if topic != tt.wantTopic {
				t.Errorf("topic = %q, want %q", topic, tt.wantTopic)
			}
			if resp.ID != tt.req.ID || !resp.Success || resp.Message != MsgBiasUpdateSuccess {
				t.Errorf("response = %+v", resp)
			}
		})
	}
	if rec.calls != 2 {
		t.Errorf("recalibrations = %d, want 2", rec.calls)
	}
}

func TestBiasServiceEmptyPayload(t *testing.T) {
	rec := &stubRecalibrator{res: imu.RecalibrationResult{Success: false, Message: MsgDeviceNotReady}}
	cfg := testConfig()
	client := newLoopbackClient()
	svc := NewBiasService(rec, jsonCodec{}, cfg.Topics)
	if err := svc.Subscribe(client); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svc.handle(client, fakeMessage{topic: cfg.Topics.BiasRequest})

	sent := client.sent()
	if len(sent) != 1 || sent[0].topic != cfg.Topics.BiasResponse {
		t.Fatalf("published = %+v", sent)
	}
	var resp BiasResponse
	if err := (jsonCodec{}).Unmarshal(sent[0].payload, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success || resp.Message != MsgDeviceNotReady {
		t.Errorf("response = %+v", resp)
	}
}

func TestBiasServiceMalformedRequest(t *testing.T) {
	rec := &stubRecalibrator{}
	client := newLoopbackClient()
	svc := NewBiasService(rec, jsonCodec{}, testConfig().Topics)

	svc.handle(client, fakeMessage{topic: "bias_estimate/request", payload: []byte("{not json")})

	if rec.calls != 0 || len(client.sent()) != 0 {
		t.Errorf("malformed request was acted on: calls=%d sent=%d", rec.calls, len(client.sent()))
	}
}

func TestRequestBiasEstimateRoundTrip(t *testing.T) {
	for _, enc := range []string{"json", "msgpack"} {
		t.Run(enc, func(t *testing.T) {
			cfg := testConfig()
			cfg.PayloadEncoding = enc
			codec, err := NewCodec(enc)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}

			drv := &fakeDriver{}
			p := readyProducer(t, cfg, drv, &recordingPublisher{})
			client := newLoopbackClient()
			if err := NewBiasService(p, codec, cfg.Topics).Subscribe(client); err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := RequestBiasEstimate(ctx, client, cfg)
			if err != nil {
				t.Fatalf("RequestBiasEstimate: %v", err)
			}
			if !resp.Success || resp.Message != MsgBiasUpdateSuccess || resp.ID == "" {
				t.Errorf("response = %+v", resp)
			}
			if drv.biasUpdates != 1 {
				t.Errorf("bias updates = %d, want 1", drv.biasUpdates)
			}
		})
	}
}

func TestRequestBiasEstimateIgnoresOtherIDs(t *testing.T) {
	cfg := testConfig()
	client := newLoopbackClient()

	// A node that always answers with someone else's id.
	client.Subscribe(cfg.Topics.BiasRequest, 0, func(c mqtt.Client, _ mqtt.Message) {
		b, _ := (jsonCodec{}).Marshal(BiasResponse{ID: "someone-else", Success: true})
		c.Publish(cfg.Topics.BiasResponse, 0, false, b)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := RequestBiasEstimate(ctx, client, cfg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
