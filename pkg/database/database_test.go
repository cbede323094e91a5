package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_SQLiteFileAndMigrate(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             filepath.Join(t.TempDir(), "nested", "updates.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Minute,
		LogLevel:        "silent",
	}

	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, AutoMigrate(db))
	// 重复迁移应当幂等
	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{"updates", "assets", "updates_assets", "json_data"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s", table)
	}
	assert.True(t, db.Migrator().HasIndex("updates", "idx_scope_commit"))
	assert.True(t, db.Migrator().HasIndex("assets", "idx_asset_hash"))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "postgres", DSN: "x"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
