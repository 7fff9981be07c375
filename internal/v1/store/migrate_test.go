package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoverse/backend/internal/v1/store/migrations"
)

func TestBaseMigrationDeclaresFullSchema(t *testing.T) {
	data, err := migrations.FS.ReadFile("00001_rooms.sql")
	require.NoError(t, err)
	sql := string(data)

	for _, table := range []string{"rooms", "room_seats", "ws_idempotency", "profiles"} {
		assert.Contains(t, sql, table)
	}
	for _, status := range []string{"'in_progress'", "'completed'", "'failed'"} {
		assert.Contains(t, sql, status, "idempotency_status enum is missing %s", status)
	}
}
