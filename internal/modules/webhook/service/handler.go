package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"deux_backend/internal/models"
	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TraceStarter interface {
	Start(ctx context.Context, pattern models.Pattern, action models.Action, key string) string
}

// Activity: отметка о последнем принятом сигнале (health).
type Activity interface {
	TouchSignal(t time.Time)
}

type Config struct {
	Path      string
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Handler принимает сигнал, открывает трейс и ставит webhook.receipt.
// Бизнес-логика выполняется асинхронно, ответ её не ждёт.
type Handler struct {
	traces    TraceStarter
	publisher brokersvc.Publisher
	activity  Activity
	now       func() time.Time
}

func NewHandler(traces TraceStarter, publisher brokersvc.Publisher, activity Activity) *Handler {
	return &Handler{
		traces:    traces,
		publisher: publisher,
		activity:  activity,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type signalBody struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
	Side    string `json:"side"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": msg})
}

func (h *Handler) Receive(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		badRequest(c, "empty body")
		return
	}

	var body signalBody
	if err := sonic.Unmarshal(raw, &body); err != nil {
		badRequest(c, "malformed json")
		return
	}
	action := strings.ToLower(strings.TrimSpace(body.Action))
	if action == "" {
		action = strings.ToLower(strings.TrimSpace(body.Side))
	}
	pattern := strings.ToLower(strings.TrimSpace(body.Pattern))
	key := strings.TrimSpace(body.Key)
	if key == "" || pattern == "" || action == "" {
		badRequest(c, "key, pattern and action are required")
		return
	}

	ctx := c.Request.Context()
	msg := models.SignalMessage{
		Key:        key,
		Pattern:    models.Pattern(pattern),
		Action:     models.Action(action),
		ReceivedAt: h.now(),
	}
	msg.TraceID = h.traces.Start(ctx, msg.Pattern, msg.Action, key)

	if _, err := h.publisher.Publish(ctx, brokersvc.TaskWebhookReceipt, msg, brokersvc.WithTraceID(msg.TraceID)); err != nil {
		logger.Errorw("[WEBHOOK] publish failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("trace_id", msg.TraceID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	if h.activity != nil {
		h.activity.TouchSignal(msg.ReceivedAt)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "queued",
		"message":  "signal accepted",
		"trace_id": msg.TraceID,
	})
}

// NewEngine собирает gin с middleware и маршрутом приёма.
func NewEngine(cfg Config, h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), NewIPLimiter(cfg.RateLimit, cfg.Burst).Middleware(), Timeout(cfg.Timeout))

	path := cfg.Path
	if path == "" {
		path = "/webhook"
	}
	r.POST(path, h.Receive)
	return r
}
