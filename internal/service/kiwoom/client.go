package kiwoom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"KHunter/internal/domain/models"
	drepo "KHunter/internal/domain/repository"
	"KHunter/pkg/logger"
)

// Client implements a SignalStream backed by the Kiwoom condition-search
// WebSocket. Condition events arrive as REAL frames carrying an insert or
// delete marker per stock.
type Client struct {
	websocketURL string
	appKey       string
	appSecret    string
	pingInterval time.Duration
	buffer       int
	log          *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	// writeMu serializes control and registration writes with the ping
	// loop; gorilla connections allow one writer at a time.
	writeMu sync.Mutex
}

// New creates a Kiwoom SignalStream.
func New(websocketURL, appKey, appSecret string, pingInterval time.Duration, buffer int, log *logger.Logger) drepo.SignalStream {
	if buffer <= 0 {
		buffer = 1024
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		websocketURL: websocketURL,
		appKey:       appKey,
		appSecret:    appSecret,
		pingInterval: pingInterval,
		buffer:       buffer,
		log:          log,
	}
}

// Connect establishes the WebSocket connection and logs in.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("kiwoom connect: %w", err)
	}

	login := map[string]string{
		"trnm":   "LOGIN",
		"appkey": c.appKey,
		"secret": c.appSecret,
	}
	c.writeMu.Lock()
	err = conn.WriteJSON(login)
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("kiwoom login: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("kiwoom stream connected")
	return nil
}

// Subscribe registers the given screening conditions for real-time events.
func (c *Client) Subscribe(ctx context.Context, conditions []string) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return fmt.Errorf("kiwoom not connected")
	}
	for _, name := range conditions {
		msg := map[string]string{"trnm": "REG", "cond": name}
		c.writeMu.Lock()
		err := conn.WriteJSON(msg)
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("register condition %s: %w", name, err)
		}
		c.log.Info("condition registered", logger.String("condition", name))
	}
	return nil
}

type realFrame struct {
	Trnm  string `json:"trnm"`
	Cond  string `json:"cond"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Event string `json:"event"` // I: entered, D: left
}

// Read streams condition signals and errors. Frames that are not REAL
// condition events are skipped. Signals are dropped on backpressure so a
// stalled consumer never wedges the socket.
func (c *Client) Read(ctx context.Context) (<-chan *models.Signal, <-chan error) {
	signals := make(chan *models.Signal, c.buffer)
	errs := make(chan error, 1)
	done := make(chan struct{})

	// ping loop, ends with the read loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					c.writeMu.Lock()
					_ = conn.WriteMessage(websocket.PingMessage, nil)
					c.writeMu.Unlock()
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(done)
		defer close(signals)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn == nil {
					errs <- fmt.Errorf("kiwoom conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					c.mu.Lock()
					c.connected = false
					c.mu.Unlock()
					errs <- fmt.Errorf("kiwoom read: %w", err)
					return
				}
				var frame realFrame
				if err := json.Unmarshal(b, &frame); err != nil {
					// ignore non-JSON keepalive frames
					continue
				}
				if frame.Trnm != "REAL" || frame.Code == "" {
					continue
				}
				sig := &models.Signal{
					StockCode:     frame.Code,
					StockName:     frame.Name,
					ConditionName: frame.Cond,
					ReceivedAt:    time.Now(),
				}
				switch frame.Event {
				case "I":
					sig.Event = models.SignalEntered
				case "D":
					sig.Event = models.SignalLeft
				default:
					continue
				}
				select {
				case signals <- sig:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return signals, errs
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
