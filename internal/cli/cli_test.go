package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/repository"
)

const donations = `
hubs:
  - name: Central
    address: 1 Market St
    items:
      - name: Ladder
        category: tools
        condition: good
        quantity: 2
      - name: Tent
        category: camping
        quantity: 1
  - name: Riverside
    items:
      - name: Drill
        category: tools
        condition: fair
        quantity: 3
`

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hublend", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "sweep", "migrate", "donate", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, DefaultEnvFile, envFlag.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	donate, _, err := cmd.Find([]string{"donate"})
	require.NoError(t, err)
	file := donate.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "f", file.Shorthand)

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	for _, name := range []string{"migrate", "no-scheduler", "consume"} {
		assert.NotNil(t, serve.Flags().Lookup(name), name)
	}

	token, _, err := cmd.Find([]string{"token"})
	require.NoError(t, err)
	for _, name := range []string{"user", "role", "hub", "ttl"} {
		assert.NotNil(t, token.Flags().Lookup(name), name)
	}
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(donations))
	require.NoError(t, err)
	require.Len(t, m.Hubs, 2)
	assert.Equal(t, "Central", m.Hubs[0].Name)
	assert.Equal(t, 2, m.Hubs[0].Items[0].Quantity)
	assert.Equal(t, "fair", m.Hubs[1].Items[0].Condition)
}

func TestParseManifestRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "hubs: []\n", "no hubs"},
		{"unknown key", "hubs:\n  - name: A\n    itemz: []\n", "itemz"},
		{"zero quantity", "hubs:\n  - name: A\n    items:\n      - name: Saw\n        quantity: 0\n", "quantity must be positive"},
		{"bad condition", "hubs:\n  - name: A\n    items:\n      - name: Saw\n        quantity: 1\n        condition: shiny\n", "unknown condition"},
		{"missing names", "hubs:\n  - items:\n      - quantity: 1\n", "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	assert.NoError(t, loadEnvFile(DefaultEnvFile), "missing default file is ignored")
	assert.Error(t, loadEnvFile(filepath.Join(dir, "absent.env")))

	const key = "HUBLEND_CLI_TEST_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=loaded\n"), 0o600))
	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv(key))
}

// sqliteEnv points configuration at a fresh SQLite file and returns its
// path.
func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hublend.db")
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("EVENT_BROKER", "log")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndDonate(t *testing.T) {
	dbPath := sqliteEnv(t)
	manifest := filepath.Join(t.TempDir(), "donations.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(donations), 0o600))

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied")

	out, err = execute(t, "donate", "--file", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "hubs created: 2, items: 3, units: 6")

	// A second run reuses hubs and variants.
	out, err = execute(t, "donate", "-f", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "hubs created: 0, items: 3, units: 6")

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	hub, err := repository.NewHubRepo(db).GetByName(ctx, "Central")
	require.NoError(t, err)
	assert.Equal(t, "1 Market St", hub.Address)

	items, err := repository.NewItemRepo(db).ListByHub(ctx, hub.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	byName := map[string]int{}
	for _, it := range items {
		assert.Equal(t, it.QuantityTotal, it.QuantityAvailable)
		byName[it.Name] = it.QuantityTotal
	}
	assert.Equal(t, map[string]int{"Ladder": 4, "Tent": 2}, byName)
}

func TestDonateRequiresFile(t *testing.T) {
	sqliteEnv(t)
	_, err := execute(t, "donate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestSweepPrintsReport(t *testing.T) {
	sqliteEnv(t)
	_, err := execute(t, "migrate")
	require.NoError(t, err)

	out, err := execute(t, "sweep", "--relay")
	require.NoError(t, err)

	var report map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	for _, key := range []string{"expired", "overdue", "reminders", "restrictions_lifted", "skipped", "failed", "published"} {
		v, ok := report[key]
		assert.True(t, ok, key)
		assert.Zero(t, v, key)
	}
}

func TestTokenCommand(t *testing.T) {
	sqliteEnv(t)

	out, err := execute(t, "token", "--user", "9", "--role", "steward", "--hub", "4", "--ttl", "1h")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "STEWARD", claims["role"])
	assert.EqualValues(t, 9, claims["sub"])
	assert.EqualValues(t, 4, claims["hub_id"])

	_, err = execute(t, "token", "--user", "9", "--role", "janitor")
	assert.ErrorContains(t, err, "invalid role")
}
