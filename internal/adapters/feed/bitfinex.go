package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/internal/adapters/config"
	"github.com/selivandex/crypto-index/pkg/logger"
	"github.com/selivandex/crypto-index/pkg/models"
)

// BitfinexWebSocket streams ticker quotes from the Bitfinex public v2 API
// and turns them into TickPrice events. Ticks are delivered in arrival order
// for this source; there is no ordering guarantee across sources.
type BitfinexWebSocket struct {
	conn           *websocket.Conn
	url            string
	source         string
	pairs          []string
	tickChan       chan models.TickPrice
	errorChan      chan error
	mu             sync.Mutex
	channels       map[int64]string // chanId -> asset pair
	reconnectDelay time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

type bitfinexEvent struct {
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	ChanID    int64  `json:"chanId"`
	Symbol    string `json:"symbol"`
	Code      int    `json:"code"`
	Message   string `json:"msg"`
	Version   int    `json:"version"`
	SubID     string `json:"subId"`
	Pair      string `json:"pair"`
	Platform  any    `json:"platform"`
	ServerID  string `json:"serverId"`
	Timestamp int64  `json:"ts"`
}

// NewBitfinexWebSocket creates a feed for the configured pairs.
func NewBitfinexWebSocket(cfg *config.FeedConfig) *BitfinexWebSocket {
	ctx, cancel := context.WithCancel(context.Background())

	return &BitfinexWebSocket{
		url:            cfg.URL,
		source:         cfg.Source,
		pairs:          cfg.Pairs,
		tickChan:       make(chan models.TickPrice, 1000),
		errorChan:      make(chan error, 10),
		channels:       make(map[int64]string),
		reconnectDelay: cfg.ReconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Connect establishes the WebSocket connection and subscribes to tickers.
func (bf *BitfinexWebSocket) Connect() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(bf.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Bitfinex WebSocket: %w", err)
	}

	bf.conn = conn
	bf.channels = make(map[int64]string)

	if err := bf.subscribe(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go bf.readMessages()

	logger.Info("Bitfinex WebSocket connected",
		zap.String("url", bf.url),
		zap.Strings("pairs", bf.pairs),
	)

	return nil
}

// subscribe sends one ticker subscription per pair.
func (bf *BitfinexWebSocket) subscribe() error {
	if len(bf.pairs) == 0 {
		return fmt.Errorf("no pairs to subscribe")
	}

	for _, pair := range bf.pairs {
		subMsg := map[string]interface{}{
			"event":   "subscribe",
			"channel": "ticker",
			"symbol":  "t" + pair,
		}
		if err := bf.conn.WriteJSON(subMsg); err != nil {
			return fmt.Errorf("failed to send subscribe message for %s: %w", pair, err)
		}
	}

	logger.Info("subscribed to Bitfinex ticker channels",
		zap.Strings("pairs", bf.pairs),
	)
	return nil
}

// Ticks returns the tick channel.
func (bf *BitfinexWebSocket) Ticks() <-chan models.TickPrice {
	return bf.tickChan
}

// Errors returns the error channel.
func (bf *BitfinexWebSocket) Errors() <-chan error {
	return bf.errorChan
}

// Close shuts the feed down.
func (bf *BitfinexWebSocket) Close() error {
	bf.cancel()

	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.conn != nil {
		return bf.conn.Close()
	}
	return nil
}

// readMessages reads frames until the connection drops, then reconnects.
func (bf *BitfinexWebSocket) readMessages() {
	defer func() {
		bf.mu.Lock()
		if bf.conn != nil {
			bf.conn.Close()
		}
		bf.mu.Unlock()

		if bf.ctx.Err() == nil {
			logger.Info("attempting to reconnect Bitfinex WebSocket...")
			time.Sleep(bf.reconnectDelay)
			if err := bf.Connect(); err != nil {
				logger.Error("failed to reconnect", zap.Error(err))
			}
		}
	}()

	for {
		select {
		case <-bf.ctx.Done():
			return
		default:
		}

		_, message, err := bf.conn.ReadMessage()
		if err != nil {
			logger.Error("WebSocket read error", zap.Error(err))
			bf.errorChan <- err
			return
		}

		bf.handleMessage(message)
	}
}

// handleMessage dispatches event objects and channel data frames.
func (bf *BitfinexWebSocket) handleMessage(message []byte) {
	if len(message) == 0 {
		return
	}

	// Event objects are JSON maps; data frames are JSON arrays.
	if message[0] == '{' {
		var event bitfinexEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logger.Warn("failed to parse WebSocket event", zap.Error(err))
			return
		}
		bf.handleEvent(event)
		return
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 2 {
		return
	}

	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return
	}

	bf.mu.Lock()
	pair, ok := bf.channels[chanID]
	bf.mu.Unlock()
	if !ok {
		return
	}

	// Heartbeats carry the string "hb" instead of the ticker array.
	var ticker []float64
	if err := json.Unmarshal(frame[1], &ticker); err != nil {
		return
	}
	// Ticker frame: [BID, BID_SIZE, ASK, ASK_SIZE, ...]
	if len(ticker) < 3 {
		return
	}

	tick := models.TickPrice{
		Source:    bf.source,
		AssetPair: pair,
		Bid:       models.NewDecimal(ticker[0]),
		Ask:       models.NewDecimal(ticker[2]),
		Timestamp: time.Now().UTC(),
	}

	select {
	case bf.tickChan <- tick:
	default:
		logger.Warn("tick channel full, dropping tick",
			zap.String("pair", pair),
		)
	}
}

func (bf *BitfinexWebSocket) handleEvent(event bitfinexEvent) {
	switch event.Event {
	case "subscribed":
		pair := event.Pair
		if pair == "" && len(event.Symbol) > 1 {
			pair = event.Symbol[1:] // strip the "t" prefix
		}
		bf.mu.Lock()
		bf.channels[event.ChanID] = pair
		bf.mu.Unlock()
		logger.Info("Bitfinex channel subscribed",
			zap.String("pair", pair),
			zap.Int64("chan_id", event.ChanID),
		)
	case "error":
		logger.Error("Bitfinex subscription error",
			zap.Int("code", event.Code),
			zap.String("message", event.Message),
		)
	case "info":
		// Connection greeting; nothing to do.
	}
}
