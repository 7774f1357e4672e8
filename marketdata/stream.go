package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Trade is one executed trade from the upstream stream.
type Trade struct {
	Symbol   string  `json:"s"`
	Price    float64 `json:"p,string"`
	Quantity float64 `json:"q,string"`
	Time     int64   `json:"T"` // unix millis
}

// streamMessage wraps every frame the upstream sends.
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// subscribeRequest is the frame sent after connecting.
type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// streamClient owns a single WebSocket connection. Writes are mutex-guarded
// because the ping loop and subscription writes share the connection.
type streamClient struct {
	url     string
	header  http.Header
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newStreamClient(url, apiKey string) *streamClient {
	header := make(http.Header)
	if apiKey != "" {
		header.Set("X-API-Key", apiKey)
	}
	return &streamClient{url: url, header: header}
}

func (c *streamClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.conn = conn
	log.Printf("✅ Connected to %s", c.url)
	return nil
}

func (c *streamClient) subscribe(symbols []string) error {
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "trade:"+s)
	}
	if err := c.writeJSON(subscribeRequest{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	log.Printf("📡 Subscribed to %d trade streams", len(symbols))
	return nil
}

func (c *streamClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return c.conn.WriteJSON(v)
}

func (c *streamClient) readTrade() (*Trade, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode stream frame: %w", err)
	}
	if len(msg.Data) == 0 {
		// Control frame (subscription ack, pong); nothing to aggregate.
		return nil, nil
	}

	var trade Trade
	if err := json.Unmarshal(msg.Data, &trade); err != nil {
		return nil, fmt.Errorf("failed to decode trade: %w", err)
	}
	return &trade, nil
}

func (c *streamClient) startPing(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.writeJSON(subscribeRequest{Op: "ping"}); err != nil {
					log.Println("Failed to send ping:", err)
					return
				}
			}
		}
	}()
}

func (c *streamClient) close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Stream manages the live trade connection lifecycle: connect, subscribe,
// aggregate, and reconnect when the feed goes quiet or drops.
type Stream struct {
	url        string
	apiKey     string
	symbols    []string
	aggregator *Aggregator

	client      *streamClient
	lastMsgTime time.Time
}

// NewStream creates a live trade stream feeding the given aggregator.
func NewStream(url, apiKey string, symbols []string, aggregator *Aggregator) *Stream {
	return &Stream{
		url:         url,
		apiKey:      apiKey,
		symbols:     symbols,
		aggregator:  aggregator,
		lastMsgTime: time.Now(),
	}
}

// Run connects and consumes trades until ctx is cancelled, reconnecting with
// a capped backoff on any failure.
func (s *Stream) Run(ctx context.Context) {
	log.Println("🚀 Market data stream starting...")
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			log.Println("🛑 Market data stream stopped")
			return
		}

		if err := s.connect(ctx); err != nil {
			log.Printf("❌ Stream connection failed: %v (retrying in %v)", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		s.consume(ctx)
		_ = s.client.close()
	}
}

func (s *Stream) connect(ctx context.Context) error {
	log.Println("🔌 Connecting to market data WebSocket...")
	s.client = newStreamClient(s.url, s.apiKey)
	if err := s.client.connect(); err != nil {
		return err
	}
	if err := s.client.subscribe(s.symbols); err != nil {
		_ = s.client.close()
		return err
	}
	s.client.startPing(ctx, 25*time.Second)
	s.lastMsgTime = time.Now()
	return nil
}

// consume reads trades until the connection errors or ctx is cancelled.
func (s *Stream) consume(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.client.close()
		case <-done:
		}
	}()

	for {
		trade, err := s.client.readTrade()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️  Stream read failed, reconnecting: %v", err)
			}
			return
		}
		s.lastMsgTime = time.Now()
		if trade != nil {
			s.aggregator.Apply(trade)
		}
	}
}

// RunHealthMonitor periodically flushes completed candle buckets and forces a
// reconnect when the feed has been silent too long.
func (s *Stream) RunHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	log.Println("💓 Stream health monitoring started")

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Stream health monitoring stopped")
			return
		case <-ticker.C:
			s.aggregator.FlushCompleted(time.Now())

			silence := time.Since(s.lastMsgTime)
			if silence > 5*time.Minute {
				log.Printf("⚠️  No trade received for %v, forcing reconnect...", silence.Round(time.Second))
				if s.client != nil {
					_ = s.client.close()
				}
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
