package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ledgerlink/internal/domain/accounting"
	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/infrastructure/crypto"
)

// ConnectionRepository implements the connection.Repository interface for
// PostgreSQL. Token columns are encrypted at rest.
//
// Expected schema:
//
//	CREATE TABLE provider_connections (
//	    id            BIGSERIAL PRIMARY KEY,
//	    client_id     TEXT        NOT NULL,
//	    provider      TEXT        NOT NULL,
//	    access_token  TEXT        NOT NULL,
//	    refresh_token TEXT        NOT NULL,
//	    realm_id      TEXT        NOT NULL DEFAULT '',
//	    company_name  TEXT        NOT NULL DEFAULT '',
//	    api_base_url  TEXT        NOT NULL DEFAULT '',
//	    scopes        TEXT[]      NOT NULL DEFAULT '{}',
//	    expires_at    TIMESTAMPTZ NOT NULL,
//	    active        BOOLEAN     NOT NULL DEFAULT true,
//	    last_sync_at  TIMESTAMPTZ,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//	CREATE UNIQUE INDEX provider_connections_active_pair
//	    ON provider_connections (client_id, provider) WHERE active;
type ConnectionRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

// NewConnectionRepository creates a new PostgreSQL connection repository.
func NewConnectionRepository(db *DB, encryptor *crypto.Encryptor) *ConnectionRepository {
	return &ConnectionRepository{db: db, encryptor: encryptor}
}

const connectionColumns = `client_id, provider, access_token, refresh_token, realm_id,
       company_name, api_base_url, scopes, expires_at, active, last_sync_at`

// GetActive returns the active connection for the pair, or ErrNotFound.
func (r *ConnectionRepository) GetActive(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE client_id = $1 AND provider = $2 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`

	conn, err := r.scanConnection(r.db.QueryRowContext(ctx, query, clientID, provider.String()))
	if err == sql.ErrNoRows {
		return nil, connection.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// Save stores conn as the pair's active connection. Any previously active
// row is retired inside the same transaction so the partial unique index
// never sees two active rows.
func (r *ConnectionRepository) Save(ctx context.Context, conn *accounting.Connection) error {
	accessToken, refreshToken, err := r.sealTokens(conn)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE provider_connections
		SET active = false, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = $1 AND provider = $2 AND active
	`, conn.ClientID, conn.Provider.String())
	if err != nil {
		return fmt.Errorf("failed to retire previous connection: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provider_connections (
			client_id, provider, access_token, refresh_token, realm_id,
			company_name, api_base_url, scopes, expires_at, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
	`,
		conn.ClientID, conn.Provider.String(), accessToken, refreshToken, conn.RealmID,
		conn.CompanyName, conn.APIBaseURL, pq.Array(conn.Scopes), conn.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit connection save: %w", err)
	}
	return nil
}

// UpdateTokens persists a refreshed token pair and expiry.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, conn *accounting.Connection) error {
	accessToken, refreshToken, err := r.sealTokens(conn)
	if err != nil {
		return err
	}

	query := `
		UPDATE provider_connections
		SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = $4 AND provider = $5 AND active
	`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, conn.ExpiresAt, conn.ClientID, conn.Provider.String())
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return requireRow(result)
}

// SetInactive marks the pair's active connection inactive.
func (r *ConnectionRepository) SetInactive(ctx context.Context, clientID string, provider accounting.ProviderID) error {
	query := `
		UPDATE provider_connections
		SET active = false, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = $1 AND provider = $2 AND active
	`

	result, err := r.db.ExecContext(ctx, query, clientID, provider.String())
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	return requireRow(result)
}

// TouchLastSync records a successful sync-style operation.
func (r *ConnectionRepository) TouchLastSync(ctx context.Context, clientID string, provider accounting.ProviderID, at time.Time) error {
	query := `
		UPDATE provider_connections
		SET last_sync_at = $1, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = $2 AND provider = $3 AND active
	`

	result, err := r.db.ExecContext(ctx, query, at, clientID, provider.String())
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return requireRow(result)
}

// ListActive returns every active connection, for maintenance.
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]*accounting.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE active
		ORDER BY client_id, provider
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*accounting.Connection
	for rows.Next() {
		conn, err := r.scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConnectionRepository) scanConnection(row rowScanner) (*accounting.Connection, error) {
	var conn accounting.Connection
	var provider string
	var accessToken, refreshToken string
	var lastSyncAt sql.NullTime
	var scopes pq.StringArray

	err := row.Scan(
		&conn.ClientID, &provider, &accessToken, &refreshToken, &conn.RealmID,
		&conn.CompanyName, &conn.APIBaseURL, &scopes, &conn.ExpiresAt, &conn.Active, &lastSyncAt,
	)
	if err != nil {
		return nil, err
	}

	conn.Provider = accounting.ProviderID(provider)
	conn.Scopes = scopes
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		conn.LastSyncAt = &t
	}

	if conn.AccessToken, err = r.encryptor.Decrypt(accessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if conn.RefreshToken, err = r.encryptor.Decrypt(refreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &conn, nil
}

func (r *ConnectionRepository) sealTokens(conn *accounting.Connection) (string, string, error) {
	accessToken, err := r.encryptor.Encrypt(conn.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := r.encryptor.Encrypt(conn.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return connection.ErrNotFound
	}
	return nil
}
