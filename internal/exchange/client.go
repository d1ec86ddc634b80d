package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/infrastructure"
	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

const (
	defaultRecvWindow = 5000
	requestTimeout    = 15 * time.Second
	listingCacheTTL   = 20 * time.Second
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 8 * time.Second
	maxRetryAttempts  = 5
)

// Client is the Binance USD-M futures gateway. All signed requests apply the
// maintained clock offset; listings are cached with a short TTL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secret     string
	logger     *zap.Logger

	// localClockMs - exchangeServerMs, refreshed on startup and on
	// invalid-timestamp rejections.
	timeOffsetMs atomic.Int64

	orderCache *ttlCache
	posCache   *ttlCache
	acctCache  *ttlCache

	sleep func(time.Duration) // test seam
}

// ClientOptions configures the REST client.
type ClientOptions struct {
	BaseURL  string
	APIKey   string
	Secret   string
	ProxyURL string
}

// NewClient builds the gateway and performs the initial clock sync.
func NewClient(ctx context.Context, opts ClientOptions, logger *zap.Logger) (*Client, error) {
	if opts.APIKey == "" || opts.Secret == "" {
		return nil, fmt.Errorf("exchange: missing api credentials")
	}

	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("exchange: invalid proxy url: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout, Transport: transport},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		secret:     opts.Secret,
		logger:     logger,
		orderCache: newTTLCache(listingCacheTTL),
		posCache:   newTTLCache(listingCacheTTL),
		acctCache:  newTTLCache(listingCacheTTL),
		sleep:      time.Sleep,
	}

	if err := c.SyncClock(ctx); err != nil {
		return nil, fmt.Errorf("exchange: initial clock sync: %w", err)
	}
	return c, nil
}

// SyncClock refreshes the local/server clock offset.
func (c *Client) SyncClock(ctx context.Context) error {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/time", nil, false, &resp); err != nil {
		return err
	}
	offset := time.Now().UnixMilli() - resp.ServerTime
	c.timeOffsetMs.Store(offset)
	c.logger.Info("clock synced", zap.Int64("offset_ms", offset))
	return nil
}

// PlaceOrder submits an order. Mutating: transient network failures surface
// as ambiguous, never blindly retried.
func (c *Client) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", binanceOrderType(req.Type))
	params.Set("quantity", req.Amount.String())
	switch req.Type {
	case model.OrderTypeLimit:
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	case model.OrderTypeStopMarket, model.OrderTypeTakeProfitMarket:
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var raw binanceOrder
	err := c.call(ctx, "place order", true, func() error {
		return c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true, &raw)
	})
	if err != nil {
		return model.Order{}, err
	}
	// Both the per-symbol listing and the whole-account listing (which
	// Account's open-order count reads) are now stale.
	c.orderCache.invalidate(req.Symbol)
	c.orderCache.invalidate("")
	c.acctCache.invalidate("account")
	infrastructure.OrdersPlaced.WithLabelValues(req.Symbol, string(req.Type)).Inc()
	return raw.toModel(), nil
}

// CancelOrder cancels an order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var raw binanceOrder
	err := c.call(ctx, "cancel order", true, func() error {
		return c.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true, &raw)
	})
	if err != nil {
		return err
	}
	c.orderCache.invalidate(symbol)
	c.orderCache.invalidate("")
	c.acctCache.invalidate("account")
	infrastructure.OrdersCanceled.WithLabelValues(symbol).Inc()
	return nil
}

// GetOrder fetches authoritative single-order state. Never cached.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (model.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var raw binanceOrder
	err := c.call(ctx, "get order", false, func() error {
		return c.doRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true, &raw)
	})
	if err != nil {
		return model.Order{}, err
	}
	return raw.toModel(), nil
}

// OpenOrders lists live orders for a symbol, served from the short-TTL cache
// when fresh.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]model.Order, error) {
	if cached, ok := c.orderCache.get(symbol); ok {
		return cached.([]model.Order), nil
	}

	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var raws []binanceOrder
	err := c.call(ctx, "open orders", false, func() error {
		return c.doRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &raws)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(raws))
	for _, r := range raws {
		orders = append(orders, r.toModel())
	}
	c.orderCache.set(symbol, orders)
	return orders, nil
}

// Positions lists exchange positions for a symbol, cached with a short TTL.
func (c *Client) Positions(ctx context.Context, symbol string) ([]model.PositionRisk, error) {
	if cached, ok := c.posCache.get(symbol); ok {
		return cached.([]model.PositionRisk), nil
	}

	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var raws []binancePositionRisk
	err := c.call(ctx, "positions", false, func() error {
		return c.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &raws)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]model.PositionRisk, 0, len(raws))
	for _, r := range raws {
		positions = append(positions, r.toModel())
	}
	c.posCache.set(symbol, positions)
	return positions, nil
}

// Account returns the cached account snapshot, refreshing on expiry.
func (c *Client) Account(ctx context.Context) (model.AccountState, error) {
	if cached, ok := c.acctCache.get("account"); ok {
		return cached.(model.AccountState), nil
	}

	var raw struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		TotalMarginBalance string `json:"totalMarginBalance"`
	}
	err := c.call(ctx, "account", false, func() error {
		return c.doRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &raw)
	})
	if err != nil {
		return model.AccountState{}, err
	}

	orders, err := c.OpenOrders(ctx, "")
	if err != nil {
		return model.AccountState{}, err
	}

	state := model.AccountState{
		WalletBalance:   mustDecimal(raw.TotalWalletBalance),
		Equity:          mustDecimal(raw.TotalMarginBalance),
		OpenOrdersCount: len(orders),
		FetchedAt:       time.Now(),
	}
	c.acctCache.set("account", state)
	return state, nil
}

// BookTicker returns the current best bid/ask. Never cached: entry pricing
// needs a live quote.
func (c *Client) BookTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var raw struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
		Time     int64  `json:"time"`
	}
	err := c.call(ctx, "book ticker", false, func() error {
		return c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", params, false, &raw)
	})
	if err != nil {
		return model.Ticker{}, err
	}

	bid := mustDecimal(raw.BidPrice)
	ask := mustDecimal(raw.AskPrice)
	return model.Ticker{
		Symbol:    raw.Symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      bid.Add(ask).Div(decimal.NewFromInt(2)),
		Timestamp: time.UnixMilli(raw.Time),
	}, nil
}

// SetLeverage sets the symbol leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	return c.call(ctx, "set leverage", true, func() error {
		return c.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
	})
}

// call is the retry middleware around every endpoint. Rate limits back off
// exponentially up to maxRetryAttempts; a timestamp rejection resyncs the
// clock and retries once; everything else propagates immediately. Transient
// network failures on mutating calls surface as ambiguous because the order
// may have reached the exchange.
func (c *Client) call(ctx context.Context, op string, mutating bool, fn func() error) error {
	resynced := false
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		switch Classify(err) {
		case KindRateLimit:
			if attempt >= maxRetryAttempts-1 {
				return fmt.Errorf("%s: rate limited after %d attempts: %w", op, maxRetryAttempts, err)
			}
			delay := backoffBase << attempt
			if delay > backoffCap {
				delay = backoffCap
			}
			c.logger.Warn("rate limited, backing off",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			infrastructure.GatewayRetries.WithLabelValues("rate_limit").Inc()
			c.sleep(delay)

		case KindTimestamp:
			if resynced {
				return fmt.Errorf("%s: timestamp rejected after resync: %w", op, err)
			}
			c.logger.Warn("timestamp rejected, resyncing clock", zap.String("op", op))
			infrastructure.GatewayRetries.WithLabelValues("timestamp").Inc()
			if syncErr := c.SyncClock(ctx); syncErr != nil {
				return fmt.Errorf("%s: clock resync failed: %w", op, syncErr)
			}
			resynced = true

		case KindTransient:
			if mutating {
				return &AmbiguousError{Op: op, Err: err}
			}
			return fmt.Errorf("%s: %w", op, err)

		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

// doRequest performs one HTTP round trip, signing when required.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		ts := time.Now().UnixMilli() - c.timeOffsetMs.Load()
		params.Set("timestamp", strconv.FormatInt(ts, 10))
		params.Set("recvWindow", strconv.Itoa(defaultRecvWindow))
		params.Set("signature", c.sign(params.Encode()))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return &APIError{HTTPStatus: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Wire types.

type binanceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	StopPrice   string `json:"stopPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	ReduceOnly  bool   `json:"reduceOnly"`
	UpdateTime  int64  `json:"updateTime"`
}

func (r binanceOrder) toModel() model.Order {
	return model.Order{
		ID:         strconv.FormatInt(r.OrderID, 10),
		Symbol:     r.Symbol,
		Type:       modelOrderType(r.Type),
		Side:       model.OrderSide(strings.ToLower(r.Side)),
		Price:      mustDecimal(r.Price),
		StopPrice:  mustDecimal(r.StopPrice),
		Amount:     mustDecimal(r.OrigQty),
		Filled:     mustDecimal(r.ExecutedQty),
		AvgPrice:   mustDecimal(r.AvgPrice),
		Status:     modelOrderStatus(r.Status),
		ReduceOnly: r.ReduceOnly,
		UpdatedAt:  time.UnixMilli(r.UpdateTime),
	}
}

type binancePositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
}

func (r binancePositionRisk) toModel() model.PositionRisk {
	lev, _ := strconv.Atoi(r.Leverage)
	return model.PositionRisk{
		Symbol:           r.Symbol,
		Amount:           mustDecimal(r.PositionAmt),
		EntryPrice:       mustDecimal(r.EntryPrice),
		MarkPrice:        mustDecimal(r.MarkPrice),
		Leverage:         lev,
		UnrealizedPnl:    mustDecimal(r.UnRealizedProfit),
		LiquidationPrice: mustDecimal(r.LiquidationPrice),
	}
}

func binanceOrderType(t model.OrderType) string {
	switch t {
	case model.OrderTypeLimit:
		return "LIMIT"
	case model.OrderTypeStopMarket:
		return "STOP_MARKET"
	case model.OrderTypeTakeProfitMarket:
		return "TAKE_PROFIT_MARKET"
	default:
		return "MARKET"
	}
}

func modelOrderType(t string) model.OrderType {
	switch t {
	case "LIMIT":
		return model.OrderTypeLimit
	case "STOP_MARKET":
		return model.OrderTypeStopMarket
	case "TAKE_PROFIT_MARKET":
		return model.OrderTypeTakeProfitMarket
	default:
		return model.OrderTypeMarket
	}
}

func modelOrderStatus(s string) model.OrderStatus {
	switch s {
	case "NEW":
		return model.OrderStatusNew
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	case "FILLED":
		return model.OrderStatusClosed
	default:
		return model.OrderStatusCanceled
	}
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
