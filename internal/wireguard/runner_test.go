// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/netip"
	"os/exec"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	requireTool(t, "sleep")
	r := ExecRunner{Timeout: 100 * time.Millisecond}

	start := time.Now()
	_, err := r.Run(context.Background(), "", "sleep", "2")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireTool(t, "false")
	_, err := ExecRunner{}.Run(context.Background(), "", "false")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}
}

func TestExecRunner_PassesStdin(t *testing.T) {
	requireTool(t, "cat")
	out, err := ExecRunner{}.Run(context.Background(), "private-key\n", "cat")
	if err != nil {
		t.Fatal(err)
	}
	if out != "private-key\n" {
		t.Fatalf("stdout = %q", out)
	}
}

func TestActivate_TimeoutKeepsDeadlineInChain(t *testing.T) {
	r := &fakeRunner{err: errors.Join(errors.New("wg timed out"), context.DeadlineExceeded)}
	m := NewPeerManager(r, &memFile{}, Options{Interface: "wg0"})

	err := m.Activate(context.Background(), testKey, netip.MustParseAddr("10.8.100.1"))
	if !errors.Is(err, ErrPeerActivation) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}
	if errors.Is(err, ErrPersistGap) {
		t.Fatal("live step failure reported as persist gap")
	}
}

// startSSHServer serves exec requests: "sleep ..." never answers, "false"
// exits 1, anything else echoes the command line and exits 0.
func startSSHServer(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(nc, cfg)
		}
	}()
	return ln.Addr().String(), signer.PublicKey()
}

func serveSSHConn(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				switch {
				case strings.HasPrefix(payload.Command, "sleep"):
				case payload.Command == "false":
					_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{1}))
					_ = ch.Close()
				default:
					_, _ = io.WriteString(ch, payload.Command+"\n")
					_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
					_ = ch.Close()
				}
			}
		}()
	}
}

func dialTestTransport(t *testing.T, timeout time.Duration) *SSHTransport {
	t.Helper()
	addr, hostKey := startSSHServer(t)
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "netkeeper",
		HostKeyCallback: ssh.FixedHostKey(hostKey),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &SSHTransport{client: client, timeout: timeout}
}

func TestSSHTransportRun(t *testing.T) {
	tr := dialTestTransport(t, 200*time.Millisecond)
	ctx := context.Background()

	out, err := tr.Run(ctx, "", "wg", "show", "wg0", "allowed-ips")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "wg show wg0 allowed-ips\n" {
		t.Fatalf("stdout = %q", out)
	}

	_, err = tr.Run(ctx, "", "false")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}

	start := time.Now()
	_, err = tr.Run(ctx, "", "sleep", "2")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("deadline not enforced, took %s", elapsed)
	}
}
