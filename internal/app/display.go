package app

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

const (
	displayW = 128
	displayH = 64
)

// addrBus sends every transaction to a fixed address, so the panel can sit
// somewhere other than the driver's default 0x3C.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// Display shows the latest sample on an SSD1306 OLED. It is a Publisher.
type Display struct {
	frameID  string
	interval time.Duration

	devMu sync.Mutex
	dev   *ssd1306.Dev
	bus   i2c.BusCloser

	mu         sync.RWMutex
	sample     imu.Sample
	haveSample bool
	temp       imu.Temperature
	haveTemp   bool
}

func NewDisplay(cfg config.DisplayConfig, frameID string) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: cfg.I2CAddr}, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.I2CAddr)

	d := &Display{
		frameID:  frameID,
		interval: time.Duration(cfg.UpdateIntervalMS) * time.Millisecond,
		dev:      dev,
		bus:      bus,
	}
	if err := d.draw(renderLines(splashLines())); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}
	return d, nil
}

func (d *Display) PublishIMU(s imu.Sample) {
	d.mu.Lock()
	d.sample = s
	d.haveSample = true
	d.mu.Unlock()
}

func (d *Display) PublishTemperature(t imu.Temperature) {
	d.mu.Lock()
	d.temp = t
	d.haveTemp = true
	d.mu.Unlock()
}

// Run redraws the panel every interval until ctx is done.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.draw(renderLines(d.lines())); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

// Halt blanks the panel and releases the bus.
func (d *Display) Halt() error {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	if d.dev == nil {
		return nil
	}
	err := multierr.Combine(d.dev.Halt(), d.bus.Close())
	d.dev = nil
	return err
}

func (d *Display) draw(img *image1bit.VerticalLSB) error {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	if d.dev == nil {
		return nil
	}
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

func (d *Display) lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displayLines(d.frameID, d.sample, d.haveSample, d.temp, d.haveTemp)
}

func splashLines() []string {
	return []string{"", "ADIS16470", "Opening..."}
}

// displayLines lays out up to four 13 px rows.
func displayLines(frameID string, s imu.Sample, haveSample bool, t imu.Temperature, haveTemp bool) []string {
	if !haveSample {
		return []string{"", frameID, "Waiting..."}
	}
	a, g := s.LinearAcceleration, s.AngularVelocity
	lines := []string{
		fmt.Sprintf("A%6.2f%6.2f", a.X, a.Y),
		fmt.Sprintf(" %6.2f m/s2", a.Z),
		fmt.Sprintf("G%6.2f%6.2f", g.X, g.Y),
	}
	if haveTemp {
		lines = append(lines, fmt.Sprintf(" %6.2f %5.1fC", g.Z, t.Temperature))
	} else {
		lines = append(lines, fmt.Sprintf(" %6.2f rad/s", g.Z))
	}
	return lines
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}
