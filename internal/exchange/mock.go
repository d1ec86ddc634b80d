package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// MockGateway is a scriptable in-memory exchange used by executor and trader
// tests. Market orders fill immediately at the scripted mark price; limit
// orders fill up to LimitFill; protective orders rest open.
type MockGateway struct {
	mu     sync.Mutex
	nextID int

	orders    map[string]*model.Order
	positions map[string][]model.PositionRisk
	tickers   map[string]model.Ticker
	account   model.AccountState

	// LimitFill is the quantity a limit order fills on placement. Zero
	// leaves limit orders resting unfilled.
	LimitFill decimal.Decimal

	// Error injection. PlaceErr fails placements once at least
	// FailPlaceAfter orders have been accepted, so a later leg of a
	// multi-order algorithm can fail in isolation.
	PlaceErr       error
	FailPlaceAfter int
	CancelErr      error
	GetOrderErr    error

	// Call records for assertions.
	Placed      []model.OrderRequest
	Canceled    []string
	LeverageSet map[string]int
}

// NewMockGateway returns an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		orders:      make(map[string]*model.Order),
		positions:   make(map[string][]model.PositionRisk),
		tickers:     make(map[string]model.Ticker),
		LeverageSet: make(map[string]int),
	}
}

// SetTicker scripts the current book for a symbol.
func (m *MockGateway) SetTicker(symbol string, bid, ask decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = model.Ticker{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      bid.Add(ask).Div(decimal.NewFromInt(2)),
		Timestamp: time.Now(),
	}
}

// SetPosition scripts the exchange-reported position for a symbol.
func (m *MockGateway) SetPosition(pr model.PositionRisk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pr.Symbol] = []model.PositionRisk{pr}
}

// ClearPosition marks the symbol flat on the exchange.
func (m *MockGateway) ClearPosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = nil
}

// SetAccount scripts the account snapshot.
func (m *MockGateway) SetAccount(wallet, equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = model.AccountState{
		WalletBalance: wallet,
		Equity:        equity,
		FetchedAt:     time.Now(),
	}
}

// FillOrder scripts a resting order as (further) filled.
func (m *MockGateway) FillOrder(orderID string, qty, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return
	}
	o.Filled = o.Filled.Add(qty)
	o.AvgPrice = price
	if o.Filled.GreaterThanOrEqual(o.Amount) {
		o.Filled = o.Amount
		o.Status = model.OrderStatusClosed
	} else {
		o.Status = model.OrderStatusPartiallyFilled
	}
}

func (m *MockGateway) PlaceOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlaceErr != nil && len(m.Placed) >= m.FailPlaceAfter {
		return model.Order{}, m.PlaceErr
	}

	m.Placed = append(m.Placed, req)
	m.nextID++
	order := &model.Order{
		ID:         strconv.Itoa(m.nextID),
		Symbol:     req.Symbol,
		Type:       req.Type,
		Side:       req.Side,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Amount:     req.Amount,
		Status:     model.OrderStatusNew,
		ReduceOnly: req.ReduceOnly,
		UpdatedAt:  time.Now(),
	}

	switch req.Type {
	case model.OrderTypeMarket:
		order.Filled = req.Amount
		order.AvgPrice = m.markPrice(req)
		order.Status = model.OrderStatusClosed
	case model.OrderTypeLimit:
		if m.LimitFill.IsPositive() {
			fill := decimal.Min(m.LimitFill, req.Amount)
			order.Filled = fill
			order.AvgPrice = req.Price
			if fill.Equal(req.Amount) {
				order.Status = model.OrderStatusClosed
			} else {
				order.Status = model.OrderStatusPartiallyFilled
			}
		}
	}

	m.orders[order.ID] = order
	return *order, nil
}

func (m *MockGateway) markPrice(req model.OrderRequest) decimal.Decimal {
	if t, ok := m.tickers[req.Symbol]; ok {
		if req.Side == model.OrderSideBuy {
			return t.Ask
		}
		return t.Bid
	}
	return req.Price
}

func (m *MockGateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		return m.CancelErr
	}

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("mock: order %s not found", orderID)
	}
	m.Canceled = append(m.Canceled, orderID)
	if o.IsOpen() {
		o.Status = model.OrderStatusCanceled
	}
	return nil
}

func (m *MockGateway) GetOrder(_ context.Context, _ string, orderID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetOrderErr != nil {
		return model.Order{}, m.GetOrderErr
	}

	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("mock: order %s not found", orderID)
	}
	return *o, nil
}

func (m *MockGateway) OpenOrders(_ context.Context, symbol string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Order
	for _, o := range m.orders {
		if o.IsOpen() && (symbol == "" || o.Symbol == symbol) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *MockGateway) Positions(_ context.Context, symbol string) ([]model.PositionRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if symbol != "" {
		return append([]model.PositionRisk(nil), m.positions[symbol]...), nil
	}
	var out []model.PositionRisk
	for _, prs := range m.positions {
		out = append(out, prs...)
	}
	return out, nil
}

func (m *MockGateway) Account(_ context.Context) (model.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, nil
}

func (m *MockGateway) BookTicker(_ context.Context, symbol string) (model.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickers[symbol]
	if !ok {
		return model.Ticker{}, fmt.Errorf("mock: no ticker for %s", symbol)
	}
	return t, nil
}

func (m *MockGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageSet[symbol] = leverage
	return nil
}

var _ Gateway = (*MockGateway)(nil)
