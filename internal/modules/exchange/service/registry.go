package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"deux_backend/internal/models"

	"github.com/pkg/errors"
)

// Factory собирает адаптер для одного набора ключей.
type Factory func(cred Credentials, baseURL string, hc *http.Client) Exchange

// Kinds: закрытый набор поддерживаемых бирж.
var Kinds = map[string]Factory{
	"okx": func(c Credentials, u string, hc *http.Client) Exchange {
		return NewOKX(c, u, hc, false)
	},
	"okx_demo": func(c Credentials, u string, hc *http.Client) Exchange {
		return NewOKX(c, u, hc, true)
	},
	"binance": func(c Credentials, u string, hc *http.Client) Exchange {
		return NewBinance(c, u, hc, false)
	},
	"binance_demo": func(c Credentials, u string, hc *http.Client) Exchange {
		return NewBinance(c, u, hc, true)
	},
	"bingx": func(c Credentials, u string, hc *http.Client) Exchange {
		return NewBingX(c, u, hc)
	},
}

type Binding struct {
	ID      int64
	Kind    string
	BaseURL string
}

type CredentialStore interface {
	// Credentials отдаёт ключи пользователя; чужой api_key_id: ErrNotFound.
	Credentials(ctx context.Context, apiKeyID, userID int64) (Credentials, error)
}

type binding struct {
	kind    string
	baseURL string
	factory Factory
}

// Registry: exchange_id -> адаптер, собирается один раз при старте.
type Registry struct {
	bindings map[int64]binding
	creds    CredentialStore
	http     *http.Client
}

func NewRegistry(bindings []Binding, creds CredentialStore, hc *http.Client) (*Registry, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	r := &Registry{bindings: make(map[int64]binding, len(bindings)), creds: creds, http: hc}
	for _, b := range bindings {
		f, ok := Kinds[b.Kind]
		if !ok {
			return nil, fmt.Errorf("exchange %d: unknown kind %q", b.ID, b.Kind)
		}
		if _, dup := r.bindings[b.ID]; dup {
			return nil, fmt.Errorf("exchange %d: duplicate binding", b.ID)
		}
		r.bindings[b.ID] = binding{kind: b.Kind, baseURL: b.BaseURL, factory: f}
	}
	return r, nil
}

// Resolve возвращает адаптер биржи с ключами пользователя.
func (r *Registry) Resolve(ctx context.Context, exchangeID, userID, apiKeyID int64) (Exchange, error) {
	b, ok := r.bindings[exchangeID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "exchange %d", exchangeID)
	}
	cred, err := r.creds.Credentials(ctx, apiKeyID, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: credentials for api key %d", b.kind, apiKeyID)
	}
	return b.factory(cred, b.baseURL, r.http), nil
}

// IDs: зарегистрированные exchange_id по возрастанию.
func (r *Registry) IDs() []int64 {
	out := make([]int64, 0, len(r.bindings))
	for id := range r.bindings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
