package issuers

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReadOPFile parses an oidc-agent compatible issuer.config file: one issuer
// URL per line, everything after the first space is a comment. Blank lines
// are skipped.
func ReadOPFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("issuers: reading OP file: %w", err)
	}
	defer f.Close()

	var issuers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		issuer, _, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if issuer == "" {
			continue
		}
		issuers = append(issuers, issuer)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("issuers: reading OP file: %w", err)
	}
	return issuers, nil
}

// OPFile is a file-backed issuer source. The file is read once at
// construction; Watch keeps the issuer list current when the file changes.
type OPFile struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	issuers []string
}

// NewOPFile reads path and returns the source. The file must be readable at
// construction time.
func NewOPFile(path string, logger *slog.Logger) (*OPFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	issuers, err := ReadOPFile(path)
	if err != nil {
		return nil, err
	}
	return &OPFile{path: path, log: logger, issuers: issuers}, nil
}

// Issuers returns the current issuer URLs.
func (f *OPFile) Issuers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.issuers))
	copy(out, f.issuers)
	return out
}

// Watch reloads the file whenever it is written or recreated, until ctx is
// done. Reload failures keep the previous issuer list.
func (f *OPFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("issuers: watching OP file: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that atomic rename-into-place updates are seen.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("issuers: watching OP file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != f.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			issuers, err := ReadOPFile(f.path)
			if err != nil {
				f.log.WarnContext(ctx, "OP file reload failed", "path", f.path, "err", err)
				continue
			}
			f.mu.Lock()
			f.issuers = issuers
			f.mu.Unlock()
			f.log.InfoContext(ctx, "OP file reloaded", "path", f.path, "issuers", len(issuers))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.WarnContext(ctx, "OP file watcher error", "path", f.path, "err", err)
		}
	}
}
