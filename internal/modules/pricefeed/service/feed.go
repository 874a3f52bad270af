package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"deux_backend/internal/models"
	"deux_backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	tradesChannel = "trades"
	pingEvery     = 20 * time.Second
	reconnectWait = time.Second
)

type Sink interface {
	InsertTrades(ctx context.Context, trades []models.MarketTrade) (int64, error)
}

// Status: куда отражать состояние соединения (health).
type Status interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

// NormalizeSymbol: "btc-usdt" -> "BTCUSDT". Так символы лежат в market_trades.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", ""))
}

// Feed держит одно WebSocket-соединение с лентой сделок OKX на все символы
// и пачками сбрасывает сделки в Sink.
type Feed struct {
	url      string
	instIDs  []string
	sink     Sink
	status   Status
	flush    time.Duration
	wsDialer *websocket.Dialer

	mu  sync.Mutex
	buf []models.MarketTrade
}

func NewFeed(url string, instIDs []string, sink Sink, status Status, flush time.Duration) *Feed {
	if flush <= 0 {
		flush = time.Second
	}
	return &Feed{
		url:      url,
		instIDs:  instIDs,
		sink:     sink,
		status:   status,
		flush:    flush,
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run блокируется до отмены ctx. Остаток буфера сбрасывается при выходе.
func (f *Feed) Run(ctx context.Context) {
	if len(f.instIDs) == 0 {
		logger.Warn("[FEED] no symbols configured, feed not started")
		return
	}

	trades := f.Stream(ctx)
	t := time.NewTicker(f.flush)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx уже отменён, сбрасываем на свежем
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			f.Flush(fctx)
			cancel()
			return
		case tr, ok := <-trades:
			if !ok {
				return
			}
			f.mu.Lock()
			f.buf = append(f.buf, tr)
			f.mu.Unlock()
		case <-t.C:
			f.Flush(ctx)
		}
	}
}

// Flush пишет накопленное. При ошибке пачка теряется: лента не критична.
func (f *Feed) Flush(ctx context.Context) {
	f.mu.Lock()
	batch := f.buf
	f.buf = nil
	f.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	n, err := f.sink.InsertTrades(ctx, batch)
	if err != nil {
		logger.Warn("[FEED] flush %d trades: %v", len(batch), err)
		return
	}
	logger.Info("[FEED] stored %d/%d trades", n, len(batch))
}

// Stream: поток сделок с переподключением. Канал закрывается по ctx.
func (f *Feed) Stream(ctx context.Context) <-chan models.MarketTrade {
	ch := make(chan models.MarketTrade)

	args := make([]map[string]string, 0, len(f.instIDs))
	for _, id := range f.instIDs {
		args = append(args, map[string]string{"channel": tradesChannel, "instId": id})
	}

	go func() {
		defer close(ch)
		for {
			if err := f.session(ctx, args, ch); err != nil {
				logger.Warn("[FEED] session: %v", err)
			}
			f.setConnected(false)

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectWait):
			}
		}
	}()
	return ch
}

func (f *Feed) session(ctx context.Context, args []map[string]string, ch chan<- models.MarketTrade) error {
	logger.Info("[FEED] connect %s, %d symbols", f.url, len(args))
	conn, _, err := f.wsDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return err
	}
	f.setConnected(true)

	// keepalive: без пинга OKX рвёт соединение через 30s тишины
	var wmu sync.Mutex
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				wmu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				wmu.Unlock()
				_ = conn.Close()
				return
			case <-stopPing:
				return
			case <-t.C:
				wmu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				wmu.Unlock()
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, tr := range ParseTrades(msg) {
			f.touch(tr.TradedAt)
			select {
			case ch <- tr:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *Feed) setConnected(v bool) {
	if f.status != nil {
		f.status.SetWSConnected(v)
	}
}

func (f *Feed) touch(t time.Time) {
	if f.status != nil {
		f.status.TouchTick(t)
	}
}

type tradesFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID  string `json:"instId"`
		TradeID string `json:"tradeId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		Ts      string `json:"ts"`
	} `json:"data"`
}

// ParseTrades разбирает кадр канала trades. pong, события подписки и битые
// строки дают пустой результат.
func ParseTrades(msg []byte) []models.MarketTrade {
	var frame tradesFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return nil
	}
	if frame.Arg.Channel != tradesChannel || len(frame.Data) == 0 {
		return nil
	}

	out := make([]models.MarketTrade, 0, len(frame.Data))
	for _, row := range frame.Data {
		px, err := decimal.NewFromString(row.Px)
		if err != nil || !px.IsPositive() {
			continue
		}
		sz, _ := decimal.NewFromString(row.Sz)
		ms, err := strconv.ParseInt(row.Ts, 10, 64)
		if err != nil {
			continue
		}
		side, err := models.ParseSide(row.Side)
		if err != nil {
			continue
		}
		inst := row.InstID
		if inst == "" {
			inst = frame.Arg.InstID
		}
		out = append(out, models.MarketTrade{
			TradeID:  row.TradeID,
			Symbol:   NormalizeSymbol(inst),
			Price:    px,
			Qty:      sz,
			Side:     side,
			TradedAt: time.UnixMilli(ms).UTC(),
		})
	}
	return out
}
