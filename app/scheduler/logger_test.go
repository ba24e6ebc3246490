package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amirphl/massdispatch/app/services"
	"github.com/amirphl/massdispatch/config"
	testingutil "github.com/amirphl/massdispatch/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scheduler.log")
	logger, closer := NewLogger(config.LoggingConfig{Output: "file", FilePath: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1})

	store := testingutil.NewMemoryStore()
	executor := newTestExecutor(store, services.NewMockGateway())
	s := New(store.Batches(), executor, nil, brokenLock{}, logger, Options{})

	_, err := s.RunNow(context.Background())
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.NotEmpty(t, lines)

	var found bool
	for _, line := range lines {
		if strings.Contains(line, "tick lock unavailable") {
			found = true
			assert.Equal(t, 1, strings.Count(line, "scheduler"), line)
		}
	}
	assert.True(t, found, string(raw))
}

func TestNewLogger_StdoutHasNoPrefix(t *testing.T) {
	logger, closer := NewLogger(config.LoggingConfig{Output: "stdout"})
	defer closer.Close()
	assert.Empty(t, logger.Prefix())
}
