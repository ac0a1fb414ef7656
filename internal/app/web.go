package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/adis_imu/internal/config"
	"github.com/relabs-tech/adis_imu/internal/imu"
)

// wsBuffer is how many frames a slow WebSocket client may lag behind.
// Frames beyond that are dropped for that client only.
const wsBuffer = 16

// Frame is one message on the /ws stream.
type Frame struct {
	Type string `json:"type"` // "imu" or "temperature"
	Data any    `json:"data"`
}

type wsClient struct {
	send chan []byte
}

// Monitor is the HTTP side of the node: latest frames as JSON, a live
// WebSocket stream and a bias estimate trigger. It is a Publisher.
type Monitor struct {
	rec Recalibrator

	mu         sync.RWMutex
	sample     imu.Sample
	haveSample bool
	temp       imu.Temperature
	haveTemp   bool

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	upgrader websocket.Upgrader
	engine   *gin.Engine
	srv      *http.Server
}

func NewMonitor(rec Recalibrator) *Monitor {
	m := &Monitor{
		rec:     rec,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/imu", m.getIMU)
	r.GET("/api/temperature", m.getTemperature)
	r.POST("/api/bias_estimate", m.postBiasEstimate)
	r.GET("/ws", m.serveWS)
	m.engine = r
	return m
}

// Handler exposes the routes, mainly for tests.
func (m *Monitor) Handler() http.Handler {
	return m.engine
}

// Start listens on addr and serves in the background.
func (m *Monitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.srv = &http.Server{Addr: addr, Handler: m.engine, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("web: %v", err)
		}
	}()
	log.Printf("web monitor listening on %s", ln.Addr())
	return nil
}

// Shutdown stops the server and disconnects every stream client.
func (m *Monitor) Shutdown(ctx context.Context) error {
	var err error
	if m.srv != nil {
		err = m.srv.Shutdown(ctx)
	}
	m.clientsMu.Lock()
	for c := range m.clients {
		close(c.send)
		delete(m.clients, c)
	}
	m.clientsMu.Unlock()
	return err
}

func (m *Monitor) PublishIMU(s imu.Sample) {
	m.mu.Lock()
	m.sample = s
	m.haveSample = true
	m.mu.Unlock()
	m.broadcast(Frame{Type: "imu", Data: s})
}

func (m *Monitor) PublishTemperature(t imu.Temperature) {
	m.mu.Lock()
	m.temp = t
	m.haveTemp = true
	m.mu.Unlock()
	m.broadcast(Frame{Type: "temperature", Data: t})
}

func (m *Monitor) broadcast(f Frame) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	if len(m.clients) == 0 {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		log.Errorf("web: marshal %s frame: %v", f.Type, err)
		return
	}
	for c := range m.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

func (m *Monitor) getIMU(c *gin.Context) {
	m.mu.RLock()
	s, ok := m.sample, m.haveSample
	m.mu.RUnlock()
	if !ok {
		c.String(http.StatusServiceUnavailable, "no data yet")
		return
	}
	c.JSON(http.StatusOK, s)
}

func (m *Monitor) getTemperature(c *gin.Context) {
	m.mu.RLock()
	t, ok := m.temp, m.haveTemp
	m.mu.RUnlock()
	if !ok {
		c.String(http.StatusServiceUnavailable, "no data yet")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (m *Monitor) postBiasEstimate(c *gin.Context) {
	res := m.rec.Recalibrate()
	status := http.StatusOK
	switch {
	case res.Success:
	case res.Message == MsgDeviceNotReady:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func (m *Monitor) serveWS(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("web: websocket upgrade: %v", err)
		return
	}

	client := &wsClient{send: make(chan []byte, wsBuffer)}
	m.clientsMu.Lock()
	m.clients[client] = struct{}{}
	m.clientsMu.Unlock()
	log.Debugf("web: stream client %s connected", conn.RemoteAddr())

	go func() {
		defer conn.Close()
		for b := range client.send {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				m.drop(client)
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Reading is only for noticing the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			m.drop(client)
			return
		}
	}
}

func (m *Monitor) drop(c *wsClient) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
}

func (m *Monitor) clientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// remoteRecalibrator forwards bias estimate requests to a node over MQTT.
// Requests share one response topic, so they go out one at a time.
type remoteRecalibrator struct {
	mu      sync.Mutex
	client  mqtt.Client
	cfg     *config.Config
	timeout time.Duration
}

func (r *remoteRecalibrator) Recalibrate() imu.RecalibrationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	resp, err := RequestBiasEstimate(ctx, r.client, r.cfg)
	if err != nil {
		log.Warnf("web: bias estimate: %v", err)
		return imu.RecalibrationResult{Success: false, Message: MsgDeviceNotReady}
	}
	return imu.RecalibrationResult{Success: resp.Success, Message: resp.Message}
}

// RunWeb serves the monitor away from the node, fed from the broker. Bias
// estimate requests are forwarded to the node.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	codec, err := NewCodec(cfg.PayloadEncoding)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-web")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTT.Broker)

	m := NewMonitor(&remoteRecalibrator{client: client, cfg: cfg, timeout: 5 * time.Second})
	if err := subscribeFrames(client, codec, cfg.Topics, m); err != nil {
		return err
	}
	if err := m.Start(cfg.Web.Listen); err != nil {
		return err
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}
