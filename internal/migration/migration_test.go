package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplySchemaIsRepeatable(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, ApplySchema(conn))
	require.NoError(t, ApplySchema(conn))

	for _, table := range []string{
		"claim_transactions",
		"claim_service_lines",
		"pre_glosas",
		"assignment_items",
		"service_glosas",
		"glosa_history",
		"traceability_entries",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestSQLiteDDLRewritesPostgresTypes(t *testing.T) {
	out := sqliteDDL("metadata JSONB NOT NULL, created_at TIMESTAMPTZ NOT NULL")
	assert.Equal(t, "metadata TEXT NOT NULL, created_at TIMESTAMP NOT NULL", out)
}
