// Package preferences stores per-shop user choices and resolves remedies from them.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/database"
)

// KeyImageFixStrategy selects how image findings are remedied.
const KeyImageFixStrategy = "IMAGE_FIX_STRATEGY"

// Strategy values for KeyImageFixStrategy.
const (
	StrategyStock = "STOCK"
	StrategyAI    = "AI"
)

var (
	ErrUnknownKey   = errors.New("unknown preference key")
	ErrInvalidValue = errors.New("invalid preference value")
)

// allowed lists the accepted values per key.
var allowed = map[string][]string{
	KeyImageFixStrategy: {StrategyStock, StrategyAI},
}

// Keys returns the known preference keys.
func Keys() []string {
	out := make([]string, 0, len(allowed))
	for k := range allowed {
		out = append(out, k)
	}
	return out
}

// Values returns the accepted values for key, or nil for an unknown key.
func Values(key string) []string {
	return append([]string(nil), allowed[key]...)
}

// Normalize validates value for key and returns its canonical form.
func Normalize(key, value string) (string, error) {
	values, ok := allowed[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	v := strings.ToUpper(strings.TrimSpace(value))
	for _, a := range values {
		if v == a {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, key, strings.Join(values, ", "))
}

// Store persists preferences. Get reports ok=false for an unset key.
type Store interface {
	Get(ctx context.Context, shop, key string) (string, bool, error)
	Set(ctx context.Context, shop, key, value string) error
	Clear(ctx context.Context, shop, key string) error
	All(ctx context.Context, shop string) (map[string]string, error)
}

type preferenceRow struct {
	ID        int64     `db:"id"`
	Shop      string    `db:"shop"`
	Key       string    `db:"pref_key"`
	Value     string    `db:"pref_value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SQLStore keeps preferences in the preferences table.
type SQLStore struct {
	db database.DB
}

func NewSQLStore(db database.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Get(ctx context.Context, shop, key string) (string, bool, error) {
	var row preferenceRow
	err := s.db.Get(ctx, &row, `SELECT pref_value FROM preferences WHERE shop = ? AND pref_key = ?`, shop, key)
	if errors.Is(err, database.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading preference %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, shop, key, value string) error {
	v, err := Normalize(key, value)
	if err != nil {
		return err
	}
	row := preferenceRow{Shop: shop, Key: key, Value: v, UpdatedAt: time.Now().UTC()}
	if err := s.db.Upsert(ctx, "preferences", row, []string{"shop", "pref_key"}); err != nil {
		return fmt.Errorf("saving preference %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, shop, key string) error {
	if err := s.db.Exec(ctx, `DELETE FROM preferences WHERE shop = ? AND pref_key = ?`, shop, key); err != nil {
		return fmt.Errorf("clearing preference %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) All(ctx context.Context, shop string) (map[string]string, error) {
	var rows []preferenceRow
	if err := s.db.Select(ctx, &rows, `SELECT pref_key, pref_value FROM preferences WHERE shop = ?`, shop); err != nil {
		return nil, fmt.Errorf("listing preferences: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// MemoryStore is an in-process Store for tests and one-shot runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, shop, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[shop][key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, shop, key, value string) error {
	v, err := Normalize(key, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[shop] == nil {
		m.data[shop] = make(map[string]string)
	}
	m.data[shop][key] = v
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, shop, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[shop], key)
	return nil
}

func (m *MemoryStore) All(_ context.Context, shop string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data[shop]))
	for k, v := range m.data[shop] {
		out[k] = v
	}
	return out, nil
}
