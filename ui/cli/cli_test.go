// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/netkeeper/internal/config"
	"github.com/toeirei/netkeeper/internal/logging"
	"github.com/toeirei/netkeeper/internal/wireguard"
	"golang.org/x/crypto/ssh"
)

// memPeers is an in-memory daemon shared by every command in a test.
type memPeers struct {
	mu   sync.Mutex
	live map[string]netip.Addr
}

func (m *memPeers) Activate(_ context.Context, pk string, addr netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[pk] = addr
	return nil
}

func (m *memPeers) SetLive(ctx context.Context, pk string, addr netip.Addr) error {
	return m.Activate(ctx, pk, addr)
}

func (m *memPeers) Deactivate(_ context.Context, pk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, pk)
	return nil
}

func (m *memPeers) Prune(context.Context, string) (int, error) { return 0, nil }

func (m *memPeers) Peers(context.Context) ([]wireguard.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wireguard.Peer
	for pk, a := range m.live {
		out = append(out, wireguard.Peer{PublicKey: pk, AllowedIPs: []netip.Prefix{netip.PrefixFrom(a, 32)}})
	}
	return out, nil
}

type cliEnv struct {
	t      *testing.T
	dsn    string
	config string
	peers  *memPeers
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "netkeeper.yaml")
	if err := os.WriteFile(cfgPath, []byte("wireguard:\n  server_public_key: c2VydmVy\n  endpoint: vpn.example.org:51820\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := &cliEnv{t: t, dsn: filepath.Join(dir, "cli.db"), config: cfgPath, peers: &memPeers{live: map[string]netip.Addr{}}}

	orig := newPeerBackend
	newPeerBackend = func(context.Context, config.WireGuard) (*peerBackend, error) {
		return &peerBackend{Peers: env.peers, Close: func() error { return nil }}, nil
	}
	t.Cleanup(func() { newPeerBackend = orig })
	return env
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config, "--database.dsn", e.dsn}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("netkeeper %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestOwnerAndProfileCommands(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("owner", "add", "42", "alice")
	if out := env.mustRun("owner", "list"); !strings.Contains(out, "alice") {
		t.Fatalf("pending list missing owner:\n%s", out)
	}
	if _, err := env.run("profile", "create", "42", "home"); err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("pending owner created a profile: %v", err)
	}

	env.mustRun("owner", "approve", "42")
	if out := env.mustRun("owner", "reset-token", "42"); !strings.Contains(out, "New site token for owner 42") {
		t.Fatalf("reset-token output:\n%s", out)
	}
	out := env.mustRun("profile", "create", "42", "home", "--category", "personal")
	if !strings.Contains(out, "10.8.100.1") {
		t.Fatalf("unexpected create output:\n%s", out)
	}
	if len(env.peers.live) != 1 {
		t.Fatalf("peer not activated")
	}

	out = env.mustRun("profile", "config", "1")
	for _, want := range []string{"[Interface]", "Address = 10.8.100.1/32", "AllowedIPs = 10.8.0.0/16", "Endpoint = vpn.example.org:51820"} {
		if !strings.Contains(out, want) {
			t.Errorf("config missing %q:\n%s", want, out)
		}
	}

	if out := env.mustRun("profile", "config", "1", "--qr"); strings.Contains(out, "[Interface]") {
		t.Fatalf("--qr printed the plain config")
	}

	var copied string
	origCopy := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { copyToClipboard = origCopy })
	env.mustRun("profile", "config", "1", "--copy")
	if !strings.Contains(copied, "[Peer]") {
		t.Fatalf("clipboard not filled: %q", copied)
	}

	env.mustRun("profile", "rename", "1", "cabin")
	if out := env.mustRun("profile", "list", "42"); !strings.Contains(out, "cabin") {
		t.Fatalf("rename not visible:\n%s", out)
	}
	if out := env.mustRun("owner", "show", "42"); !strings.Contains(out, "verified") {
		t.Fatalf("owner show:\n%s", out)
	}

	env.mustRun("profile", "delete", "1")
	if len(env.peers.live) != 0 {
		t.Fatal("peer still live after delete")
	}
	if out := env.mustRun("audit-log"); !strings.Contains(out, "DELETE_PROFILE") {
		t.Fatalf("audit log missing delete:\n%s", out)
	}
}

func TestQuotaMessage(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("owner", "add", "7")
	env.mustRun("owner", "approve", "7")
	for _, n := range []string{"a", "b", "c"} {
		env.mustRun("profile", "create", "7", n)
	}
	_, err := env.run("profile", "create", "7", "d")
	if err == nil || !strings.Contains(err.Error(), "Maximum 3 profiles allowed.") {
		t.Fatalf("expected quota message, got %v", err)
	}
}

func TestReconcileCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("owner", "add", "1")
	env.mustRun("owner", "approve", "1")
	env.mustRun("profile", "create", "1", "home")

	if out := env.mustRun("reconcile"); !strings.Contains(out, "matches") {
		t.Fatalf("expected clean reconcile:\n%s", out)
	}
	env.peers.live = map[string]netip.Addr{}
	if out := env.mustRun("reconcile"); !strings.Contains(out, "Missing on daemon: 1") {
		t.Fatalf("expected drift:\n%s", out)
	}
	if out := env.mustRun("reconcile", "--repair"); !strings.Contains(out, "Re-activated 1") {
		t.Fatalf("expected repair:\n%s", out)
	}
	if len(env.peers.live) != 1 {
		t.Fatal("repair did not set the peer")
	}
}

func TestBackupRestoreCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("owner", "add", "5", "bob")
	env.mustRun("owner", "approve", "5")
	env.mustRun("profile", "create", "5", "laptop")

	file := filepath.Join(t.TempDir(), "snap.json")
	env.mustRun("backup", file)
	if _, err := os.Stat(file + ".zst"); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	env.mustRun("profile", "delete", "1")
	if _, err := env.run("restore", file+".zst"); err == nil {
		t.Fatal("restore without --yes in a non-interactive session must fail")
	}
	env.mustRun("restore", file+".zst", "--yes")
	if out := env.mustRun("profile", "list", "5"); !strings.Contains(out, "laptop") {
		t.Fatalf("restore did not bring the profile back:\n%s", out)
	}
	env.mustRun("db-maintain")
}

func TestConfigInitWritesYAML(t *testing.T) {
	env := newCLIEnv(t)
	target := filepath.Join(t.TempDir(), "out.yaml")
	env.mustRun("config", "init", target)
	b, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "server_public_key: c2VydmVy") {
		t.Fatalf("written config does not carry file values:\n%s", b)
	}
}

func TestHostKeyCommand(t *testing.T) {
	raw, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ssh.NewPublicKey(raw)
	if err != nil {
		t.Fatal(err)
	}
	orig := fetchHostKey
	fetchHostKey = func(string) (ssh.PublicKey, error) { return pub, nil }
	t.Cleanup(func() { fetchHostKey = orig })

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"host-key", "wg.example.org"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ssh-ed25519 AAAA") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "version: ") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestBuildKeyGenerator(t *testing.T) {
	if _, err := buildKeyGenerator(config.WireGuard{Keygen: "native"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := buildKeyGenerator(config.WireGuard{Keygen: "command"}, wireguard.ExecRunner{}); err != nil {
		t.Fatal(err)
	}
	if _, err := buildKeyGenerator(config.WireGuard{Keygen: "magic"}, nil); err == nil {
		t.Fatal("expected error for unknown generator")
	}
}

func TestScheduledReconcile(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("owner", "add", "3")
	env.mustRun("owner", "approve", "3")
	env.mustRun("profile", "create", "3", "home")

	cfg, err := config.LoadConfig[config.Config](nil, config.Defaults(), &env.config)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Database.Dsn = env.dsn
	a := &app{cfg: cfg}
	t.Cleanup(func() { _ = a.close() })
	p, err := a.provisioner(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	prev := logging.L
	logging.L = clog.New(&buf)
	t.Cleanup(func() { logging.L = prev })

	if _, err := scheduleReconcile(context.Background(), "not a schedule", p); err == nil {
		t.Fatal("expected error for an invalid schedule")
	}

	scheduledReconcile(context.Background(), p)
	if strings.Contains(buf.String(), "drift detected") {
		t.Fatalf("clean state reported drift:\n%s", buf.String())
	}

	env.peers.mu.Lock()
	env.peers.live = map[string]netip.Addr{}
	env.peers.mu.Unlock()

	buf.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scheduledReconcile(ctx, p)
	if buf.Len() != 0 {
		t.Fatalf("cancelled run logged output:\n%s", buf.String())
	}

	scheduledReconcile(context.Background(), p)
	if !strings.Contains(buf.String(), "1 profiles missing on the daemon") {
		t.Fatalf("drift not logged:\n%s", buf.String())
	}
	if len(env.peers.live) != 0 {
		t.Fatal("scheduled reconcile must only report, not repair")
	}
}
