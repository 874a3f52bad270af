package service

import (
	"context"
	"sync/atomic"
	"time"
)

// Probe: внешняя проверка готовности (брокер, база).
type Probe func(ctx context.Context) error

type State struct {
	startedAt time.Time

	wsConnected    atomic.Bool
	lastTickUnix   atomic.Int64 // unix seconds
	lastSignalUnix atomic.Int64

	probes map[string]Probe
	armed  func() int
}

func NewState() *State {
	return &State{startedAt: time.Now(), probes: make(map[string]Probe)}
}

// AddProbe регистрирует проверку. Вызывается при сборке, до старта HTTP.
func (s *State) AddProbe(name string, p Probe) { s.probes[name] = p }

// SetArmedCounter: откуда брать число активных мониторов.
func (s *State) SetArmedCounter(f func() int) { s.armed = f }

// Check прогоняет все пробы, nil в значении: проба прошла.
func (s *State) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.probes))
	for name, p := range s.probes {
		out[name] = p(ctx)
	}
	return out
}

func (s *State) Ready(ctx context.Context) bool {
	for _, err := range s.Check(ctx) {
		if err != nil {
			return false
		}
	}
	return true
}

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time)   { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time     { return fromUnix(s.lastTickUnix.Load()) }
func (s *State) TouchSignal(t time.Time) { s.lastSignalUnix.Store(t.Unix()) }
func (s *State) LastSignal() time.Time   { return fromUnix(s.lastSignalUnix.Load()) }

func (s *State) Armed() int {
	if s.armed == nil {
		return 0
	}
	return s.armed()
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func fromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
