package testenv

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(WithWriter(&buf), WithIgnoreDebug(), WithIgnoreKeys("url")))

	logger.Info("first", "db", "albums", "url", "http://127.0.0.1:1234/albums")
	logger.Debug("hidden")
	logger.With("db", "books").Warn("second", "n", 2)
	logger.Error("third")

	assert.Equal(t, "[0] INFO: first db=albums\n[1] WARN: second db=books, n=2\n[2] ERROR: third\n", buf.String())
}

func TestLogHandlerWithDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(WithWriter(&buf)))
	logger.Debug("shown", "id", "X")
	assert.Equal(t, "[0] DEBUG: shown id=X\n", buf.String())
}

func TestEnvUsesFakeServer(t *testing.T) {
	t.Setenv(EnvCouchDBURL, "")
	env, err := New(nil, "albums", "books")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Fake())
	names, err := env.Server.AllDatabases(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"albums", "books"}, names)
	assert.Equal(t, "albums", env.DB("albums").Name())

	_, err = New(nil)
	assert.Error(t, err)
}
