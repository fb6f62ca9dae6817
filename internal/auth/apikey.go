package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncbridge/internal/engine"
	"syncbridge/internal/store"
)

// API keys have the form sb_<prefix>_<secret>. The prefix is stored in clear
// and indexed; the secret is only kept as a bcrypt hash.
const (
	apiKeyScheme    = "sb"
	apiKeyPrefixLen = 8
)

var (
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrAPIKeyInactive = errors.New("api key revoked")
	ErrAPIKeyExpired  = errors.New("api key expired")
)

// APIKey is a machine credential row from _api_keys.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  *time.Time `json:"created_at"`
}

// GenerateAPIKey returns a fresh plaintext key and its prefix.
func GenerateAPIKey() (key, prefix string) {
	prefix = strings.ReplaceAll(uuid.NewString(), "-", "")[:apiKeyPrefixLen]
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s_%s", apiKeyScheme, prefix, secret), prefix
}

// SplitAPIKey breaks a plaintext key into prefix and secret.
func SplitAPIKey(raw string) (prefix, secret string, ok bool) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyScheme || len(parts[1]) != apiKeyPrefixLen || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// LooksLikeAPIKey reports whether a bearer credential is an API key rather
// than a JWT.
func LooksLikeAPIKey(raw string) bool {
	return strings.HasPrefix(raw, apiKeyScheme+"_")
}

// CreateAPIKey stores a new key and returns the plaintext once. A nil expiry
// means the key never expires.
func CreateAPIKey(ctx context.Context, s *store.Store, name string, expiresAt *time.Time) (string, *APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, engine.ValidationError([]engine.ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	}

	key, prefix := GenerateAPIKey()
	_, secret, _ := SplitAPIKey(key)
	hash, err := HashPassword(secret)
	if err != nil {
		return "", nil, err
	}

	id := store.GenerateUUID()
	var exp any
	if expiresAt != nil {
		exp = s.Dialect.TimeParam(*expiresAt)
	}

	pb := s.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, s.DB,
		fmt.Sprintf(`INSERT INTO _api_keys (id, name, prefix, key_hash, active, expires_at) VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(name), pb.Add(prefix), pb.Add(hash), pb.Add(true), pb.Add(exp)),
		pb.Params()...)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", store.MapError(s.Dialect, err))
	}

	return key, &APIKey{ID: id, Name: name, Prefix: prefix, Active: true, ExpiresAt: expiresAt}, nil
}

// ValidateAPIKey looks the key up by prefix and compares the secret against
// the stored hash. On success last_used_at is bumped best-effort.
func ValidateAPIKey(ctx context.Context, s *store.Store, raw string, now time.Time) (*APIKey, error) {
	prefix, secret, ok := SplitAPIKey(raw)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	pb := s.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, s.DB,
		fmt.Sprintf(`SELECT id, name, prefix, key_hash, active, expires_at, last_used_at, created_at FROM _api_keys WHERE prefix = %s`, pb.Add(prefix)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrInvalidAPIKey
	}
	if s.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, "active")
	}
	row := rows[0]

	hash, _ := row["key_hash"].(string)
	if !CheckPassword(secret, hash) {
		return nil, ErrInvalidAPIKey
	}

	k := apiKeyFromRow(row)
	if !k.Active {
		return nil, ErrAPIKeyInactive
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return nil, ErrAPIKeyExpired
	}

	pb = s.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, s.DB,
		fmt.Sprintf(`UPDATE _api_keys SET last_used_at = %s WHERE id = %s`, pb.Add(s.Dialect.TimeParam(now)), pb.Add(k.ID)),
		pb.Params()...); err != nil {
		log.Printf("WARN: failed to update last_used_at for api key %s: %v", k.Prefix, err)
	}
	return k, nil
}

// ListAPIKeys returns every key without its hash, newest first.
func ListAPIKeys(ctx context.Context, s *store.Store) ([]*APIKey, error) {
	rows, err := store.QueryRows(ctx, s.DB,
		`SELECT id, name, prefix, active, expires_at, last_used_at, created_at FROM _api_keys ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	if s.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, "active")
	}
	keys := make([]*APIKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, apiKeyFromRow(row))
	}
	return keys, nil
}

// RevokeAPIKey deactivates a key. The row is kept for auditing.
func RevokeAPIKey(ctx context.Context, s *store.Store, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, s.DB,
		fmt.Sprintf(`UPDATE _api_keys SET active = %s WHERE id = %s`, pb.Add(false), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func apiKeyFromRow(row map[string]any) *APIKey {
	k := &APIKey{}
	k.ID, _ = row["id"].(string)
	k.Name, _ = row["name"].(string)
	k.Prefix, _ = row["prefix"].(string)
	k.Active, _ = row["active"].(bool)
	k.ExpiresAt = timeValue(row["expires_at"])
	k.LastUsedAt = timeValue(row["last_used_at"])
	k.CreatedAt = timeValue(row["created_at"])
	return k
}

func timeValue(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		u := t.UTC()
		return &u
	case string:
		if parsed, err := engine.ParseTime(t); err == nil {
			return &parsed
		}
	}
	return nil
}
