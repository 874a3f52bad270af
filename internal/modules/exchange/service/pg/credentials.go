package pg

import (
	"context"
	"errors"
	"fmt"

	"deux_backend/internal/models"
	"deux_backend/internal/modules/exchange/service"
	"deux_backend/pkg/db"

	"github.com/jackc/pgx/v5"
)

type CredentialStore struct {
	tx db.TxManager
}

var _ service.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(tx db.TxManager) *CredentialStore {
	return &CredentialStore{tx: tx}
}

const selectCredentials = `
SELECT api_key, api_secret, COALESCE(passphrase, '')
FROM api_keys
WHERE id = $1 AND user_id = $2`

func (s *CredentialStore) Credentials(ctx context.Context, apiKeyID, userID int64) (c service.Credentials, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.CredentialStore.Credentials: %w", err)
		}
	}()

	err = s.tx.Conn().QueryRow(ctx, selectCredentials, apiKeyID, userID).
		Scan(&c.APIKey, &c.Secret, &c.Passphrase)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, models.ErrNotFound
	}
	return c, err
}
