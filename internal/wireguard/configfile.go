// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ConfigFile is the interface's durable configuration file.
type ConfigFile interface {
	// Append adds text to the end of the file, creating it if needed, and
	// returns only after the data is durable.
	Append(ctx context.Context, text string) error
	// Read returns the whole file. A missing file reads as empty.
	Read(ctx context.Context) (string, error)
	// Replace atomically swaps the file contents.
	Replace(ctx context.Context, text string) error
}

// LocalConfigFile is a ConfigFile on the local filesystem.
type LocalConfigFile struct {
	Path string
	mu   sync.Mutex
}

// NewLocalConfigFile returns the config file for iface inside dir.
func NewLocalConfigFile(dir, iface string) *LocalConfigFile {
	return &LocalConfigFile{Path: filepath.Join(dir, iface+".conf")}
}

func (f *LocalConfigFile) Append(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	if _, err := fh.WriteString(text); err != nil {
		_ = fh.Close()
		return fmt.Errorf("append %s: %w", f.Path, err)
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return fmt.Errorf("sync %s: %w", f.Path, err)
	}
	return fh.Close()
}

func (f *LocalConfigFile) Read(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Path, err)
	}
	return string(b), nil
}

func (f *LocalConfigFile) Replace(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".netkeeper.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", f.Path, err)
	}
	return nil
}
