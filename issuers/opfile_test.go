package issuers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOPFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issuer.config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadOPFile(t *testing.T) {
	path := writeOPFile(t, "https://op-one.example.org the first op\n"+
		"\n"+
		"   \n"+
		"https://op-two.example.org\n"+
		"https://op-three.example.org/oauth2 trailing comment here\n")

	issuers, err := ReadOPFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://op-one.example.org",
		"https://op-two.example.org",
		"https://op-three.example.org/oauth2",
	}, issuers)
}

func TestReadOPFileMissing(t *testing.T) {
	_, err := ReadOPFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestOPFileWatchReload(t *testing.T) {
	path := writeOPFile(t, "https://op-one.example.org\n")

	f, err := NewOPFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://op-one.example.org"}, f.Issuers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Watch(ctx) }()

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("https://op-two.example.org\n"), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if issuers := f.Issuers(); len(issuers) == 1 && issuers[0] == "https://op-two.example.org" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not pick up the rewritten OP file, issuers=%v", f.Issuers())
}
