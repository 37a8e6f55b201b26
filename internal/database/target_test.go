package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceTarget(t *testing.T) {
	maintenance, name, ok, err := maintenanceTarget("postgres://app:secret@db:5432/bondsnbeyond?sslmode=disable")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bondsnbeyond", name)
	assert.Equal(t, "postgres://app:secret@db:5432/postgres?sslmode=disable", maintenance)

	for _, dsn := range []string{
		"host=localhost user=app dbname=bondsnbeyond",
		"postgresql://app@db:5432",
		"postgres://app@db:5432/postgres",
	} {
		_, _, ok, err := maintenanceTarget(dsn)
		assert.NoError(t, err, dsn)
		assert.False(t, ok, dsn)
	}

	_, _, _, err = maintenanceTarget("postgres://app@db:bad-port/x")
	assert.Error(t, err)
}
