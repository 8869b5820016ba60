package mapping

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, []string{dir}, func(changed []string) {
			select {
			case changes <- changed:
			default:
			}
		})
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	file := filepath.Join(dir, "user.go")
	require.NoError(t, os.WriteFile(file, []byte("package e\n"), 0o644))

	select {
	case changed := <-changes:
		assert.Equal(t, []string{file}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestIsMappingFile(t *testing.T) {
	assert.True(t, isMappingFile("a/user.go"))
	assert.True(t, isMappingFile("a/user.orm.yml"))
	assert.True(t, isMappingFile("a/user.orm.yaml"))
	assert.False(t, isMappingFile("a/user_test.go"))
	assert.False(t, isMappingFile("a/user.yml"))
}
