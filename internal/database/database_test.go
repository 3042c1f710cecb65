package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefRow struct {
	ID        int64     `db:"id"`
	Shop      string    `db:"shop"`
	Key       string    `db:"pref_key"`
	Value     string    `db:"pref_value"`
	UpdatedAt time.Time `db:"updated_at"`
}

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "klara.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))

	var n int
	require.NoError(t, db.Get(context.Background(), &n, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 1, n)
}

func TestUpsertKeepsColumns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.Upsert(ctx, "preferences", prefRow{Shop: "s", Key: "k", Value: "a", UpdatedAt: first}, []string{"shop", "pref_key"}))
	require.NoError(t, db.Upsert(ctx, "preferences", prefRow{Shop: "s", Key: "k", Value: "b", UpdatedAt: first.Add(time.Hour)}, []string{"shop", "pref_key"}, "updated_at"))

	var rows []prefRow
	require.NoError(t, db.Select(ctx, &rows, `SELECT id, shop, pref_key, pref_value, updated_at FROM preferences`))
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].Value)
	assert.True(t, rows[0].UpdatedAt.Equal(first), "kept column must not be overwritten")
}

func TestGetMatchesColumnsByTag(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.Insert(ctx, "preferences", prefRow{Shop: "s", Key: "k", Value: "v", UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)

	var row prefRow
	// Column order differs from field order on purpose.
	require.NoError(t, db.Get(ctx, &row, `SELECT pref_value, pref_key, shop FROM preferences WHERE shop = ?`, "s"))
	assert.Equal(t, "v", row.Value)
	assert.Equal(t, "k", row.Key)

	err = db.Get(ctx, &row, `SELECT shop FROM preferences WHERE shop = ?`, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecAffected(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.Insert(ctx, "preferences", prefRow{Shop: "s", Key: "k", Value: "v", UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)

	n, err := db.ExecAffected(ctx, `UPDATE preferences SET pref_value = 'x' WHERE pref_value = 'v'`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = db.ExecAffected(ctx, `UPDATE preferences SET pref_value = 'x' WHERE pref_value = 'v'`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMySQLAdapt(t *testing.T) {
	got := mysqlAdapt("id INTEGER PRIMARY KEY AUTOINCREMENT,")
	assert.Equal(t, "id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,", got)
	assert.Equal(t, "u:p@tcp(h)/db?parseTime=true", withParseTime("u:p@tcp(h)/db"))
	assert.Equal(t, "u:p@tcp(h)/db?x=1&parseTime=true", withParseTime("u:p@tcp(h)/db?x=1"))
}
