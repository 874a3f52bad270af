package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"deux_backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	binanceDefaultURL = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
)

// Binance: спот Binance с подписью query (hex HMAC). testnet меняет только хост.
type Binance struct {
	baseURL string
	cred    Credentials
	testnet bool
	http    *http.Client
	now     func() time.Time
}

func NewBinance(cred Credentials, baseURL string, hc *http.Client, testnet bool) *Binance {
	if baseURL == "" {
		baseURL = binanceDefaultURL
		if testnet {
			baseURL = binanceTestnetURL
		}
	}
	return &Binance{baseURL: baseURL, cred: cred, testnet: testnet, http: hc, now: time.Now}
}

func (c *Binance) Name() string {
	if c.testnet {
		return "binance_demo"
	}
	return "binance"
}

func (c *Binance) signed(ctx context.Context, method, path string, q url.Values, op string) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")
	query := q.Encode()
	query += "&signature=" + signHex(c.cred.Secret, query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("%s new request: %w", op, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cred.APIKey)
	return do(c.http, req, op)
}

// splitSymbol: "BTC-USDT" -> ("BTC", "USDT").
func splitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 {
		return symbol, ""
	}
	return parts[0], parts[1]
}

func (c *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if !req.Size.IsPositive() {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: size <= 0")
	}

	q := url.Values{
		"symbol":           {compactSymbol(req.Symbol)},
		"side":             {strings.ToUpper(string(req.Side))},
		"type":             {"MARKET"},
		"newOrderRespType": {"FULL"},
	}
	if req.Side == models.SideBuy {
		q.Set("quoteOrderQty", req.Size.String())
	} else {
		q.Set("quantity", req.Size.String())
	}

	data, err := c.signed(ctx, http.MethodPost, "/api/v3/order", q, "PlaceOrder")
	if err != nil {
		return OrderResponse{}, err
	}
	id := gjson.GetBytes(data, "orderId")
	if !id.Exists() {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: no orderId: %s", string(data))
	}
	return OrderResponse{OrderID: id.String(), Raw: data}, nil
}

func (c *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{"symbol": {compactSymbol(symbol)}, "orderId": {orderID}}
	_, err := c.signed(ctx, http.MethodDelete, "/api/v3/order", q, "CancelOrder")
	return err
}

func (c *Binance) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	q := url.Values{"symbol": {compactSymbol(symbol)}, "orderId": {orderID}}
	data, err := c.signed(ctx, http.MethodGet, "/api/v3/order", q, "GetOrderStatus")
	if err != nil {
		return OrderStatus{}, err
	}

	filled := decimalOrZero(gjson.GetBytes(data, "executedQty").String())
	quote := decimalOrZero(gjson.GetBytes(data, "cummulativeQuoteQty").String())
	st := OrderStatus{
		OrderID:   orderID,
		State:     strings.ToLower(gjson.GetBytes(data, "status").String()),
		FilledQty: filled,
	}
	// средняя цена рыночного ордера = quote / base
	if filled.IsPositive() {
		st.FillPrice = quote.Div(filled)
	}
	return st, nil
}

func (c *Binance) GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error) {
	data, err := c.signed(ctx, http.MethodGet, "/api/v3/account", nil, "GetBalance")
	if err != nil {
		return decimal.Zero, err
	}
	free := gjson.GetBytes(data, `balances.#(asset=="`+strings.ToUpper(ccy)+`").free`)
	return decimalOrZero(free.String()), nil
}

func (c *Binance) GetLastTrade(ctx context.Context, symbol string) (Trade, error) {
	q := url.Values{"symbol": {compactSymbol(symbol)}, "limit": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/trades?"+q.Encode(), nil)
	if err != nil {
		return Trade{}, fmt.Errorf("GetLastTrade new request: %w", err)
	}
	data, err := do(c.http, req, "GetLastTrade")
	if err != nil {
		return Trade{}, err
	}

	row := gjson.GetBytes(data, "0")
	if !row.Exists() {
		return Trade{}, fmt.Errorf("GetLastTrade %s: %w", symbol, models.ErrNotFound)
	}
	side := models.SideBuy
	if row.Get("isBuyerMaker").Bool() {
		side = models.SideSell
	}
	return Trade{
		TradeID: row.Get("id").String(),
		Price:   decimalOrZero(row.Get("price").String()),
		Qty:     decimalOrZero(row.Get("qty").String()),
		Side:    side,
		Time:    time.UnixMilli(row.Get("time").Int()).UTC(),
	}, nil
}
