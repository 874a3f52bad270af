package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	brokersvc "deux_backend/internal/modules/broker/service"
	"deux_backend/internal/modules/config"
	"deux_backend/internal/modules/health/service"
	monitorsvc "deux_backend/internal/modules/monitor/service"
	"deux_backend/pkg/db"
	"deux_backend/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: брокер запущен и база отвечает
		if !state.Ready(r.Context()) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		for name, err := range state.Check(r.Context()) {
			if err != nil {
				ready = false
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		body, _ := sonic.Marshal(map[string]any{
			"ready":          ready,
			"checks":         checks,
			"armedMonitors":  state.Armed(),
			"wsConnected":    state.WSConnected(),
			"uptimeSec":      int64(state.Uptime().Seconds()),
			"lastSignalUnix": unixOrZero(state.LastSignal()),
			"lastTradeUnix":  unixOrZero(state.LastTick()),
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// wire подключает пробы к живым зависимостям.
func wire(state *service.State, b *brokersvc.Broker, pg *db.PgTxManager, coord *monitorsvc.Coordinator) {
	state.AddProbe("broker", func(context.Context) error {
		if !b.Running() {
			return errors.New("broker not running")
		}
		return nil
	})
	state.AddProbe("database", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pg.Ping(ctx)
	})
	state.SetArmedCounter(coord.Armed)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              cfg.Service.AdminAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("[HEALTH] admin on %s", srv.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewMux,
		),
		fx.Invoke(wire, RunHTTP),
	)
}
