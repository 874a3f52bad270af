package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"deux_backend/internal/models"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const okxDefaultURL = "https://www.okx.com"

// OKX: спотовый клиент OKX v5. demo добавляет заголовок симуляции.
type OKX struct {
	baseURL string
	cred    Credentials
	demo    bool
	http    *http.Client
	now     func() time.Time
}

func NewOKX(cred Credentials, baseURL string, hc *http.Client, demo bool) *OKX {
	if baseURL == "" {
		baseURL = okxDefaultURL
	}
	return &OKX{baseURL: baseURL, cred: cred, demo: demo, http: hc, now: time.Now}
}

func (c *OKX) Name() string {
	if c.demo {
		return "okx_demo"
	}
	return "okx"
}

func (c *OKX) sign(ts, method, requestPath, body string) string {
	return signBase64(c.cred.Secret, ts+method+requestPath+body)
}

type okxEnvelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (c *OKX) request(ctx context.Context, method, requestPath string, body any, op string) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s marshal: %w", op, err)
		}
	}

	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	sign := c.sign(ts, method, requestPath, string(payload))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s new request: %w", op, err)
	}
	req.Header.Set("OK-ACCESS-KEY", c.cred.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sign)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cred.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	if c.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	data, err := do(c.http, req, op)
	if err != nil {
		return nil, err
	}

	var env okxEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s decode: %w", op, err)
	}
	if env.Code != "0" {
		// у ордеров причина лежит в data[0].sMsg
		msg := env.Msg
		if s := gjson.GetBytes(data, "data.0.sMsg").String(); s != "" {
			msg = s
		}
		return nil, fmt.Errorf("%s okx error %s: %s", op, env.Code, msg)
	}
	return data, nil
}

func (c *OKX) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if !req.Size.IsPositive() {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: size <= 0")
	}

	// 1) покупка считается в quote, продажа в base
	tgtCcy := "base_ccy"
	if req.Side == models.SideBuy {
		tgtCcy = "quote_ccy"
	}

	body := map[string]string{
		"instId":  req.Symbol,
		"tdMode":  "cash",
		"side":    string(req.Side),
		"ordType": "market",
		"sz":      req.Size.String(),
		"tgtCcy":  tgtCcy,
	}

	data, err := c.request(ctx, http.MethodPost, "/api/v5/trade/order", body, "PlaceOrder")
	if err != nil {
		return OrderResponse{}, err
	}

	var r struct {
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return OrderResponse{}, fmt.Errorf("PlaceOrder decode: %w", err)
	}
	if len(r.Data) == 0 || r.Data[0].OrdID == "" {
		return OrderResponse{}, fmt.Errorf("PlaceOrder: empty ordId: %s", string(data))
	}
	if r.Data[0].SCode != "" && r.Data[0].SCode != "0" {
		return OrderResponse{}, fmt.Errorf("PlaceOrder sCode %s: %s", r.Data[0].SCode, r.Data[0].SMsg)
	}
	return OrderResponse{OrderID: r.Data[0].OrdID, Raw: data}, nil
}

func (c *OKX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	_, err := c.request(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body, "CancelOrder")
	return err
}

func (c *OKX) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	q := url.Values{"instId": {symbol}, "ordId": {orderID}}
	data, err := c.request(ctx, http.MethodGet, "/api/v5/trade/order?"+q.Encode(), nil, "GetOrderStatus")
	if err != nil {
		return OrderStatus{}, err
	}

	row := gjson.GetBytes(data, "data.0")
	if !row.Exists() {
		return OrderStatus{}, fmt.Errorf("GetOrderStatus: order %s: %w", orderID, models.ErrNotFound)
	}
	px := row.Get("avgPx").String()
	if px == "" {
		px = row.Get("fillPx").String()
	}
	return OrderStatus{
		OrderID:   orderID,
		State:     row.Get("state").String(),
		FillPrice: decimalOrZero(px),
		FilledQty: decimalOrZero(row.Get("accFillSz").String()),
	}, nil
}

func (c *OKX) GetBalance(ctx context.Context, ccy string) (decimal.Decimal, error) {
	q := url.Values{"ccy": {ccy}}
	data, err := c.request(ctx, http.MethodGet, "/api/v5/account/balance?"+q.Encode(), nil, "GetBalance")
	if err != nil {
		return decimal.Zero, err
	}

	detail := gjson.GetBytes(data, `data.0.details.#(ccy=="`+ccy+`")`)
	if !detail.Exists() {
		return decimal.Zero, nil
	}
	v := detail.Get("availBal").String()
	if v == "" {
		v = detail.Get("eq").String()
	}
	return decimalOrZero(v), nil
}

func (c *OKX) GetLastTrade(ctx context.Context, symbol string) (Trade, error) {
	q := url.Values{"instId": {symbol}, "limit": {"1"}}
	data, err := c.request(ctx, http.MethodGet, "/api/v5/market/trades?"+q.Encode(), nil, "GetLastTrade")
	if err != nil {
		return Trade{}, err
	}
	row := gjson.GetBytes(data, "data.0")
	if !row.Exists() {
		return Trade{}, fmt.Errorf("GetLastTrade %s: %w", symbol, models.ErrNotFound)
	}
	ts, _ := strconv.ParseInt(row.Get("ts").String(), 10, 64)
	side, _ := models.ParseSide(row.Get("side").String())
	return Trade{
		TradeID: row.Get("tradeId").String(),
		Price:   decimalOrZero(row.Get("px").String()),
		Qty:     decimalOrZero(row.Get("sz").String()),
		Side:    side,
		Time:    time.UnixMilli(ts).UTC(),
	}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
