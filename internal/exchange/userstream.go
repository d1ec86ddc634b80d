package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// OrderUpdate is a pushed order state change from the user-data stream.
// It accelerates reconciliation; the REST path stays authoritative.
type OrderUpdate struct {
	Symbol   string
	OrderID  string
	Status   model.OrderStatus
	Filled   string
	AvgPrice string
}

// UserStream maintains the futures user-data websocket: listen-key
// acquisition and keepalive, reconnect with doubling backoff, and order
// update fan-out.
type UserStream struct {
	client    *Client
	streamURL string
	logger    *zap.Logger
}

// NewUserStream wires a stream against the REST client's credentials.
func NewUserStream(client *Client, streamURL string, logger *zap.Logger) *UserStream {
	return &UserStream{client: client, streamURL: streamURL, logger: logger}
}

// Run connects and pushes order updates until ctx is cancelled.
func (s *UserStream) Run(ctx context.Context, updates chan<- OrderUpdate) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		listenKey, err := s.createListenKey(ctx)
		if err != nil {
			s.logger.Error("failed to create listen key", zap.Error(err))
			time.Sleep(backoff)
			backoff = s.increaseBackoff(backoff)
			continue
		}

		wsURL := s.streamURL + "/" + listenKey
		s.logger.Info("connecting to user-data stream", zap.String("url", wsURL))
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			s.logger.Error("failed to connect user-data stream", zap.Error(err))
			time.Sleep(backoff)
			backoff = s.increaseBackoff(backoff)
			continue
		}

		backoff = time.Second // Reset backoff on successful connection
		infrastructure.StreamConnections.Inc()

		keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
		go s.keepaliveLoop(keepaliveCtx, listenKey)

		if err := s.handleConnection(ctx, conn, updates); err != nil {
			s.logger.Error("user-data stream closed with error", zap.Error(err))
		}
		stopKeepalive()
		infrastructure.StreamConnections.Dec()
		conn.Close()
	}
}

func (s *UserStream) handleConnection(ctx context.Context, conn *websocket.Conn, updates chan<- OrderUpdate) error {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var event userDataEvent
			if err := json.Unmarshal(message, &event); err != nil {
				s.logger.Error("failed to unmarshal user-data event", zap.Error(err))
				continue
			}
			if event.EventType != "ORDER_TRADE_UPDATE" {
				continue
			}

			update := OrderUpdate{
				Symbol:   event.Order.Symbol,
				OrderID:  strconv.FormatInt(event.Order.OrderID, 10),
				Status:   modelOrderStatus(event.Order.Status),
				Filled:   event.Order.FilledQty,
				AvgPrice: event.Order.AvgPrice,
			}
			// Pushed state supersedes the cached listing.
			s.client.orderCache.invalidate(update.Symbol)

			select {
			case updates <- update:
			default:
				s.logger.Warn("order update channel full, dropping update",
					zap.String("order_id", update.OrderID))
			}
		}
	}
}

func (s *UserStream) keepaliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.keepaliveListenKey(ctx, listenKey); err != nil {
				s.logger.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

func (s *UserStream) createListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	err := s.client.call(ctx, "create listen key", false, func() error {
		return s.client.doRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, true, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (s *UserStream) keepaliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return s.client.call(ctx, "keepalive listen key", false, func() error {
		return s.client.doRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", params, true, nil)
	})
}

func (s *UserStream) increaseBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > time.Minute {
		return time.Minute
	}
	return next
}

type userDataEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol    string `json:"s"`
		OrderID   int64  `json:"i"`
		Status    string `json:"X"`
		FilledQty string `json:"z"`
		AvgPrice  string `json:"ap"`
	} `json:"o"`
}
