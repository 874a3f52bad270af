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

const bingxDefaultURL = "https://open-api.bingx.com"

// BingX: спот BingX. Символы как у OKX ("BTC-USDT"), ответы в обёртке {code,msg,data}.
type BingX struct {
	baseURL string
	cred    Credentials
	http    *http.Client
	now     func() time.Time
}

func NewBingX(cred Credentials, baseURL string, hc *http.Client) *BingX {
	if baseURL == "" {
		baseURL = bingxDefaultURL
	}
	return &BingX{baseURL: baseURL, cred: cred, http: hc, now: time.Now}
}

func (c *BingX) Name() string { return "bingx" }

func (c *BingX) request(ctx context.Context, method, path string, q url.Values, signed bool, op string) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	query := q.Encode()
	if signed {
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query = q.Encode()
		query += "&signature=" + signHex(c.cred.Secret, query)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("%s new request: %w", op, err)
	}
	if signed {
		req.Header.Set("X-BX-APIKEY", c.cred.APIKey)
	}

	data, err := do(c.http, req, op)
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(data, "code").Int(); code != 0 {
		return nil, fmt.Errorf("%s bingx error %d: %s", op, code, gjson.GetBytes(data, "msg").String())
	}
	return data, nil
}

func (c *BingX) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if !req.Size.IsPositive() {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: size <= 0")
	}

	q := url.Values{
		"symbol": {strings.ToUpper(req.Symbol)},
		"side":   {strings.ToUpper(string(req.Side))},
		"type":   {"MARKET"},
	}
	if req.Side == models.SideBuy {
		q.Set("quoteOrderQty", req.Size.String())
	} else {
		q.Set("quantity", req.Size.String())
	}

	data, err := c.request(ctx, http.MethodPost, "/openApi/spot/v1/trade/order", q, true, "PlaceOrder")
	if err != nil {
		return OrderResponse{}, err
	}
	id := gjson.GetBytes(data, "data.orderId")
	if !id.Exists() {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: no orderId: %s", string(data))
	}
	return OrderResponse{OrderID: id.String(), Raw: data}, nil
}

func (c *BingX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	_, err := c.request(ctx, http.MethodPost, "/openApi/spot/v1/trade/cancel", q, true, "CancelOrder")
	return err
}

func (c *BingX) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	data, err := c.request(ctx, http.MethodGet, "/openApi/spot/v1/trade/query", q, true, "GetOrderStatus")
	if err != nil {
		return OrderStatus{}, err
	}

	filled := decimalOrZero(gjson.GetBytes(data, "data.executedQty").String())
	quote := decimalOrZero(gjson.GetBytes(data, "data.cummulativeQuoteQty").String())
	st := OrderStatus{
		OrderID:   orderID,
		State:     strings.ToLower(gjson.GetBytes(data, "data.status").String()),
		FilledQty: filled,
		FillPrice: decimalOrZero(gjson.GetBytes(data, "data.price").String()),
	}
	if st.FillPrice.IsZero() && filled.IsPositive() {
		st.FillPrice = quote.Div(filled)
	}
	return st, nil
}

func (c *BingX) GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error) {
	data, err := c.request(ctx, http.MethodGet, "/openApi/spot/v1/account/balance", nil, true, "GetBalance")
	if err != nil {
		return decimal.Zero, err
	}
	free := gjson.GetBytes(data, `data.balances.#(asset=="`+strings.ToUpper(ccy)+`").free`)
	return decimalOrZero(free.String()), nil
}

func (c *BingX) GetLastTrade(ctx context.Context, symbol string) (Trade, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}, "limit": {"1"}}
	data, err := c.request(ctx, http.MethodGet, "/openApi/spot/v1/market/trades", q, false, "GetLastTrade")
	if err != nil {
		return Trade{}, err
	}

	row := gjson.GetBytes(data, "data.0")
	if !row.Exists() {
		return Trade{}, fmt.Errorf("GetLastTrade %s: %w", symbol, models.ErrNotFound)
	}
	side := models.SideBuy
	if row.Get("buyerMaker").Bool() {
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
