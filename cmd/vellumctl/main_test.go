package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/vellumbot/internal/store/sqlite"
)

// execute runs vellumctl with args and returns what it wrote to stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const seedSnapshot = `version: 1
aliases:
  - owner: GeeEm
    words: init
    expression: d20+2
  - owner: GeeEm
    words: sneak attack
    expression: 3d6
  - owner: Player
    words: init
    expression: d20-1
`

func TestRoll(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "roll", "4d1+2")
	require.NoError(t, err)
	assert.Equal(t, "4d1+2 = [1+1+1+1+2 = 6]\n", out)

	out, err = execute(t, "", "roll", "2x3sort")
	require.NoError(t, err)
	assert.Equal(t, "2x3sort = [2, 2, 2]\n", out)

	_, err = execute(t, "", "roll", "banana")
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "lookup", "spell", "fireball")
	require.NoError(t, err)
	assert.Contains(t, out, "<<Fireball>> Evocation [Fire]")

	_, err = execute(t, "", "lookup", "recipe", "soup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: ")

	out, err = execute(t, "", "lookup", "spell", "zzzzqx")
	require.NoError(t, err)
	assert.Contains(t, out, "no matches")
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	db := filepath.Join(t.TempDir(), "vellum.db")
	out, err := execute(t, "", "--driver", "sqlite", "--dsn", db, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "sqlite store is up to date\n", out)

	_, err = os.Stat(db)
	require.NoError(t, err, "migrate should create the database file")
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "", "--driver", "redis", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store driver "redis"`)
}

func TestExportImport_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	archive := filepath.Join(dir, "aliases.yaml.zst")

	out, err := execute(t, seedSnapshot, "--driver", "sqlite", "--dsn", src, "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "imported 3 aliases\n", out)

	_, err = execute(t, "", "--driver", "sqlite", "--dsn", src, "export", "-o", archive)
	require.NoError(t, err)

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, zstdMagic), "export to .zst should be compressed")

	out, err = execute(t, "", "--driver", "sqlite", "--dsn", dst, "import", archive)
	require.NoError(t, err)
	assert.Equal(t, "imported 3 aliases\n", out)

	st, err := sqlite.Open(context.Background(), dst)
	require.NoError(t, err)
	defer st.Close()
	expr, err := st.Alias(context.Background(), "GeeEm", "sneak attack")
	require.NoError(t, err)
	assert.Equal(t, "3d6", expr)
	expr, err = st.Alias(context.Background(), "player", "init")
	require.NoError(t, err)
	assert.Equal(t, "d20-1", expr)

	plain, err := execute(t, "", "--driver", "sqlite", "--dsn", dst, "export")
	require.NoError(t, err)
	snap, err := readSnapshot(bytes.NewBufferString(plain))
	require.NoError(t, err)
	assert.Len(t, snap.Aliases, 3)
}

func TestImport_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		snapshot string
		want     string
	}{
		{
			name:     "missing expression",
			snapshot: "version: 1\naliases:\n  - owner: GeeEm\n    words: init\n",
			want:     "alias 0: owner, words and expression are required",
		},
		{
			name:     "wrong version",
			snapshot: "version: 7\naliases: []\n",
			want:     "unsupported snapshot version 7",
		},
		{
			name:     "unknown field",
			snapshot: "version: 1\nnotes: hi\n",
			want:     "decode snapshot",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.snapshot, "--driver", "memory", "import", "-")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("bot:\n  nick: Scribe\nwsline:\n  enabled: true\n"), 0o644))
	out, err := execute(t, "", "check-config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "nick:      Scribe")
	assert.Contains(t, out, "wsline:    true")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bot:\n  nick: \"two words\"\n"), 0o644))
	_, err = execute(t, "", "check-config", bad)
	require.Error(t, err)
}
