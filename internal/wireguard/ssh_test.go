// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
)

// sftpTransport connects an SSHTransport to an in-process sftp server backed
// by the local filesystem.
func sftpTransport(t *testing.T, configPath string) *SSHTransport {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverR, serverW})
	if err != nil {
		t.Fatalf("sftp server: %v", err)
	}
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientR, clientW)
	if err != nil {
		t.Fatalf("sftp client: %v", err)
	}
	// The server side of the pipes must close too, or client.Close waits
	// forever for its receive loop.
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return &SSHTransport{sftp: client, configPath: configPath, timeout: 5 * time.Second}
}

func TestSSHTransport_AppendReadReplace(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wg0.conf")
	tr := sftpTransport(t, configPath)
	ctx := context.Background()

	if got, err := tr.Read(ctx); err != nil || got != "" {
		t.Fatalf("missing file should read empty: %q %v", got, err)
	}
	stanza := PeerStanza(testKey, netip.MustParseAddr("10.8.100.1"))
	if err := tr.Append(ctx, "[Interface]\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(ctx, stanza); err != nil {
		t.Fatalf("Append: %v", err)
	}
	b, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[Interface]\n"+stanza {
		t.Fatalf("file content = %q", b)
	}

	if err := tr.Replace(ctx, "[Interface]\n"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, err := tr.Read(ctx)
	if err != nil || got != "[Interface]\n" {
		t.Fatalf("after replace: %q %v", got, err)
	}
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("mode = %o, want 600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(configPath))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".netkeeper.") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSSHTransport_ReplaceFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "wg0.conf")
	if err := os.WriteFile(configPath, []byte("original\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// The temp file cannot be created inside a missing directory.
	tr := sftpTransport(t, configPath)
	tr.configPath = filepath.Join(dir, "missing", "wg0.conf")

	if err := tr.Replace(context.Background(), "truncated"); err == nil {
		t.Fatal("expected Replace to fail")
	}
	b, _ := os.ReadFile(configPath)
	if string(b) != "original\n" {
		t.Fatalf("original modified: %q", b)
	}
}

func TestSSHTransport_BoundedTimesOut(t *testing.T) {
	tr := &SSHTransport{configPath: "/etc/wireguard/wg0.conf", timeout: 50 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := tr.bounded(context.Background(), "append", func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("deadline not enforced, took %s", elapsed)
	}
}

func TestSSHTransport_BoundedCallsRunInOrder(t *testing.T) {
	tr := &SSHTransport{configPath: "/etc/wireguard/wg0.conf", timeout: 50 * time.Millisecond}
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := tr.bounded(context.Background(), "append", func() error {
		<-release
		record("append")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	tr.timeout = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		done <- tr.bounded(context.Background(), "read", func() error {
			record("read")
			return nil
		})
	}()
	// The read must wait for the timed-out append still holding the lock.
	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "append,read" {
		t.Fatalf("order = %v", order)
	}
}
