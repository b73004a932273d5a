package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ClientKey is a hashed API credential that resolves to a client agent with
// a fixed scope set. The plaintext key is shown once at creation and never
// stored.
type ClientKey struct {
	ID        int64
	Name      string
	ClientID  string
	Scopes    []string
	KeyHash   string
	Active    bool
	CreatedAt time.Time
}

// HashClientKey returns a stable SHA-256 hex digest for the provided key.
func HashClientKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertClientKey stores a hashed key. KeyHash must already contain the
// hashed value.
func (r Repo) InsertClientKey(ctx context.Context, k ClientKey) (ClientKey, error) {
	if k.ClientID == "" {
		return ClientKey{}, errors.New("client_id required")
	}
	if k.KeyHash == "" {
		return ClientKey{}, errors.New("key_hash required")
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO client_keys(key_hash, client_id, name, scopes, active, created_at) VALUES (?,?,?,?,?,?)`,
		k.KeyHash, k.ClientID, nullable(k.Name), strings.Join(k.Scopes, " "), boolInt(k.Active), timestamp(k.CreatedAt))
	if err != nil {
		return ClientKey{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ClientKey{}, err
	}
	k.ID = id
	return k, nil
}

// GetClientKeyByHash returns the active key matching the hashed value.
func (r Repo) GetClientKeyByHash(ctx context.Context, hash string) (ClientKey, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, key_hash, client_id, COALESCE(name,''), scopes, active, created_at
		 FROM client_keys WHERE key_hash=? AND active=1 LIMIT 1`, hash)
	k, err := scanClientKey(row.Scan)
	if err == sql.ErrNoRows {
		return ClientKey{}, ErrNotFound
	}
	return k, err
}

// ListClientKeys returns every key, disabled ones included.
func (r Repo) ListClientKeys(ctx context.Context) ([]ClientKey, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, key_hash, client_id, COALESCE(name,''), scopes, active, created_at
		 FROM client_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ClientKey
	for rows.Next() {
		k, err := scanClientKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// SetClientKeyActive enables or disables a key. Disabled keys no longer
// authenticate but stay listed.
func (r Repo) SetClientKeyActive(ctx context.Context, id int64, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE client_keys SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanClientKey(scan func(...any) error) (ClientKey, error) {
	var k ClientKey
	var scopes, createdAt string
	var active int
	if err := scan(&k.ID, &k.KeyHash, &k.ClientID, &k.Name, &scopes, &active, &createdAt); err != nil {
		return ClientKey{}, err
	}
	k.Active = active == 1
	if scopes != "" {
		k.Scopes = strings.Fields(scopes)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		k.CreatedAt = t
	}
	return k, nil
}
