package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrationsOrdersAndSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_tasks.sql":  {Data: []byte("SELECT 2")},
		"0001_init.sql":   {Data: []byte("SELECT 1")},
		"0003_vendor.sql": {Data: []byte("SELECT 3")},
		"README.md":       {Data: []byte("docs")},
		"seeds/x.sql":     {Data: []byte("SELECT 0")},
	}

	names, err := PendingMigrations(fsys, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql", "0002_tasks.sql", "0003_vendor.sql"}, names)

	names, err = PendingMigrations(fsys, map[string]bool{"0001_init.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_tasks.sql", "0003_vendor.sql"}, names)
}
