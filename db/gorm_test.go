package db

import (
	"strings"
	"testing"

	"Versewell/config"
	"Versewell/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser: "app", DBPassword: "s3cret", DBHost: "db.local", DBPort: "3307", DBName: "versewell",
	}
	dsn := MySQLDSN(cfg)

	assert.True(t, strings.HasPrefix(dsn, "app:s3cret@tcp(db.local:3307)/versewell?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	gdb, err := Open(&config.Config{DBDriver: "sqlite", SQLitePath: "file:migrate_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	defer Close(gdb)

	require.NoError(t, AutoMigrate(gdb))
	for _, table := range []string{
		"generation_sessions", "lyrics", "pending_lyrics_syncs",
		model.CatalogTracksTable, model.PersonalTracksTable,
	} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(&config.Config{DBDriver: "oracle"})
	assert.Error(t, err)
}
