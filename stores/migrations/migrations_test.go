package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsBadArguments(t *testing.T) {
	assert.Error(t, Run("", "up"))
	for _, direction := range []string{"", "UP", "sideways"} {
		err := Run("postgres://localhost/authgate", direction)
		require.Error(t, err, direction)
		assert.Contains(t, err.Error(), "direction")
	}
}

func TestDatabaseURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", DatabaseURL("postgres://u:p@db:5432/app?sslmode=disable"))
	assert.Equal(t, "pgx5://db/app", DatabaseURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", DatabaseURL("pgx5://db/app"))
}

func TestEveryUpHasADown(t *testing.T) {
	entries, err := fs.ReadDir(FS, "sql")
	require.NoError(t, err)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
