package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

// consoleState is the latest frame of each kind seen on the bus.
type consoleState struct {
	mu         sync.RWMutex
	sample     imu.Sample
	haveSample bool
	temp       imu.Temperature
	haveTemp   bool
	frames     int
}

func (s *consoleState) PublishIMU(sample imu.Sample) {
	s.mu.Lock()
	s.sample = sample
	s.haveSample = true
	s.frames++
	s.mu.Unlock()
}

func (s *consoleState) PublishTemperature(t imu.Temperature) {
	s.mu.Lock()
	s.temp = t
	s.haveTemp = true
	s.mu.Unlock()
}

func (s *consoleState) rows() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := [][]string{{"", "X", "Y", "Z"}}
	if !s.haveSample {
		return append(rows, []string{"waiting for data...", "", "", ""})
	}
	a, g := s.sample.LinearAcceleration, s.sample.AngularVelocity
	rows = append(rows,
		[]string{"accel m/s²", f3(a.X), f3(a.Y), f3(a.Z)},
		[]string{"gyro rad/s", f3(g.X), f3(g.Y), f3(g.Z)},
	)
	temp := "-"
	if s.haveTemp {
		temp = fmt.Sprintf("%.1f °C", s.temp.Temperature)
	}
	rows = append(rows,
		[]string{"temperature", temp, "", ""},
		[]string{"frame", s.sample.Header.FrameID, s.sample.Header.Stamp.Format("15:04:05.000"), fmt.Sprint(s.frames)},
	)
	return rows
}

func f3(v float64) string { return fmt.Sprintf("%8.3f", v) }

// subscribeFrames decodes the imu and temperature topics into sink.
func subscribeFrames(client mqtt.Client, codec Codec, topics config.TopicsConfig, sink Publisher) error {
	token := client.Subscribe(topics.IMU, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s imu.Sample
		if err := codec.Unmarshal(msg.Payload(), &s); err != nil {
			log.WithField("topic", msg.Topic()).Debugf("console: imu unmarshal error: %v", err)
			return
		}
		sink.PublishIMU(s)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	token = client.Subscribe(topics.Temperature, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var t imu.Temperature
		if err := codec.Unmarshal(msg.Payload(), &t); err != nil {
			log.WithField("topic", msg.Topic()).Debugf("console: temperature unmarshal error: %v", err)
			return
		}
		sink.PublishTemperature(t)
	})
	token.Wait()
	return token.Error()
}

// RunConsoleMQTT shows the node's frames in a terminal table until q,
// Ctrl+C or ctx ends.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	codec, err := NewCodec(cfg.PayloadEncoding)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)

	state := &consoleState{}
	if err := subscribeFrames(client, codec, cfg.Topics, state); err != nil {
		return err
	}

	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = fmt.Sprintf(" %s  %s, %s  (q to quit) ", cfg.MQTT.Broker, cfg.Topics.IMU, cfg.Topics.Temperature)
	table.TextAlignment = ui.AlignRight
	table.RowSeparator = false
	w, _ := ui.TerminalDimensions()
	table.SetRect(0, 0, w, 8)

	draw := func() {
		table.Rows = state.rows()
		ui.Render(table)
	}
	draw()

	events := ui.PollEvents()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				table.SetRect(0, 0, payload.Width, 8)
				ui.Clear()
				draw()
			}
		case <-ticker.C:
			draw()
		}
	}
}
