package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/auth"
	"github.com/warp/enrollment-engine/enrollment/store"
)

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE", "sqlite")

	cfg, err := loadConfig(&flags{port: 3000, store: "memory", db: "x.db"})

	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "x.db", cfg.DBPath)

	_, err = loadConfig(&flags{store: "cassandra"})
	assert.Error(t, err)
}

func TestSeedThenSweep_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "seed.db")
	f := &flags{store: "sqlite", db: db}

	var out bytes.Buffer
	seed := seedCmd(f)
	seed.SetOut(&out)
	seed.SetArgs([]string{"--scenario", "drifted-counters"})
	require.NoError(t, seed.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "loaded scenario drifted-counters")

	out.Reset()
	sweep := sweepCmd(f)
	sweep.SetOut(&out)
	sweep.SetArgs([]string{})
	require.NoError(t, sweep.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "classes repaired:     2")

	out.Reset()
	sweep = sweepCmd(f)
	sweep.SetOut(&out)
	sweep.SetArgs([]string{})
	require.NoError(t, sweep.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "classes repaired:     0")
}

func TestSeed_ResetUnsupportedOnMemory(t *testing.T) {
	seed := seedCmd(&flags{store: "memory"})
	seed.SetArgs([]string{"--reset"})
	seed.SetOut(&bytes.Buffer{})

	assert.Error(t, seed.ExecuteContext(context.Background()))
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := tokenCmd(&flags{store: "memory"})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--email", "ada@dragon.dojo"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	p, err := auth.NewAuthenticator("cli-secret", store.NewMemory()).Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ada@dragon.dojo", p.Email)
}
