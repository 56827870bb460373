// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/netkeeper/internal/logging"
	"golang.org/x/crypto/ssh"
)

// SSHConfig locates a remote WireGuard host.
type SSHConfig struct {
	Host string
	User string
	// PrivateKey is a PEM private key. Empty means use the SSH agent only.
	PrivateKey []byte
	// KnownHostKey is the host's key in authorized_keys format.
	KnownHostKey string
	// ConfigPath is the remote path of the interface config file.
	ConfigPath string
	Timeout    time.Duration
}

// SSHTransport runs control-plane commands and edits the config file on a
// remote host. It implements both Runner and ConfigFile.
type SSHTransport struct {
	client     *ssh.Client
	sftp       *sftp.Client
	configPath string
	timeout    time.Duration
	mu         sync.Mutex
}

var (
	_ Runner     = (*SSHTransport)(nil)
	_ ConfigFile = (*SSHTransport)(nil)
)

func hostKeyCallback(known string) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(known) == "" {
		return nil, errors.New("no known host key configured; run 'netkeeper host-key <host>' and set wireguard.remote.known_host_key")
	}
	want, _, _, _, err := ssh.ParseAuthorizedKey([]byte(known))
	if err != nil {
		return nil, fmt.Errorf("parse known host key: %w", err)
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		if !bytes.Equal(key.Marshal(), want.Marshal()) {
			return fmt.Errorf("host key mismatch for %s: remote presented %s", hostname, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))))
		}
		return nil
	}, nil
}

func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "22")
	}
	return host
}

// DialSSH connects with the configured private key and falls back to the SSH
// agent when that key is rejected or absent.
func DialSSH(cfg SSHConfig) (*SSHTransport, error) {
	hkcb, err := hostKeyCallback(cfg.KnownHostKey)
	if err != nil {
		return nil, err
	}
	addr := withDefaultPort(cfg.Host)
	var client *ssh.Client
	var keyErr error

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		client, err = ssh.Dial("tcp", addr, &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hkcb,
			Timeout:         10 * time.Second,
		})
		if err != nil {
			if !strings.Contains(err.Error(), "unable to authenticate") {
				return nil, fmt.Errorf("connection with private key failed: %w", err)
			}
			keyErr = err
		}
	}

	if client == nil {
		agentClient := getSSHAgent()
		if agentClient == nil {
			if keyErr != nil {
				return nil, fmt.Errorf("key authentication failed and no SSH agent available: %w", keyErr)
			}
			return nil, errors.New("no authentication method available (no private key and no ssh agent)")
		}
		client, err = ssh.Dial("tcp", addr, &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
			HostKeyCallback: hkcb,
			Timeout:         10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connection with ssh agent failed: %w", err)
		}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &SSHTransport{client: client, sftp: sftpClient, configPath: cfg.ConfigPath, timeout: timeoutOrDefault(cfg.Timeout)}, nil
}

// Close closes the SFTP and SSH clients.
func (t *SSHTransport) Close() error {
	var errs []error
	if t.sftp != nil {
		errs = append(errs, t.sftp.Close())
	}
	if t.client != nil {
		errs = append(errs, t.client.Close())
	}
	return errors.Join(errs...)
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || r == '/' || r == ':' || r == '+' || r == '=' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Run implements Runner over an SSH session.
func (t *SSHTransport) Run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	line := strings.Join(parts, " ")

	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return "", fmt.Errorf("remote %s timed out: %w", name, ctx.Err())
	}
	logging.Debugf("ssh exec %s: err=%v stderr=%q", line, err, strings.TrimSpace(stderr.String()))
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("remote %s failed: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("remote %s failed: %w", name, err)
	}
	return stdout.String(), nil
}

// bounded runs fn while holding t.mu, giving up after the transport timeout.
// A call that outlives the deadline finishes in the background and keeps the
// lock until it does.
func (t *SSHTransport) bounded(ctx context.Context, what string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("remote %s %s timed out: %w", what, t.configPath, ctx.Err())
	}
}

// syncFile flushes f to stable storage when the server offers fsync.
func (t *SSHTransport) syncFile(f *sftp.File) error {
	if _, ok := t.sftp.HasExtension("fsync@openssh.com"); !ok {
		return nil
	}
	return f.Sync()
}

// Append implements ConfigFile.
func (t *SSHTransport) Append(ctx context.Context, text string) error {
	return t.bounded(ctx, "append", func() error {
		f, err := t.sftp.OpenFile(t.configPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
		if err != nil {
			return fmt.Errorf("open remote %s: %w", t.configPath, err)
		}
		// Writes carry explicit offsets, so not every server honors O_APPEND.
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return fmt.Errorf("seek remote %s: %w", t.configPath, err)
		}
		if _, err := f.Write([]byte(text)); err != nil {
			_ = f.Close()
			return fmt.Errorf("append remote %s: %w", t.configPath, err)
		}
		if err := t.syncFile(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("sync remote %s: %w", t.configPath, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close remote %s: %w", t.configPath, err)
		}
		return nil
	})
}

// Read implements ConfigFile.
func (t *SSHTransport) Read(ctx context.Context) (string, error) {
	var content string
	err := t.bounded(ctx, "read", func() error {
		f, err := t.sftp.Open(t.configPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("open remote %s: %w", t.configPath, err)
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read remote %s: %w", t.configPath, err)
		}
		content = string(b)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Replace implements ConfigFile by uploading a temp file and renaming it
// over the original. The original is untouched unless the upload was
// written, flushed and closed cleanly.
func (t *SSHTransport) Replace(ctx context.Context, text string) error {
	return t.bounded(ctx, "replace", func() error {
		tmpPath := path.Join(path.Dir(t.configPath), fmt.Sprintf(".%s.netkeeper.%d", path.Base(t.configPath), time.Now().UnixNano()))
		f, err := t.sftp.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create remote temp file: %w", err)
		}
		discard := func(step string, err error) error {
			_ = t.sftp.Remove(tmpPath)
			return fmt.Errorf("%s remote temp file: %w", step, err)
		}
		if _, err := f.Write([]byte(text)); err != nil {
			_ = f.Close()
			return discard("write", err)
		}
		if err := t.syncFile(f); err != nil {
			_ = f.Close()
			return discard("sync", err)
		}
		if err := f.Close(); err != nil {
			return discard("close", err)
		}
		if err := t.sftp.Chmod(tmpPath, 0o600); err != nil {
			return discard("chmod", err)
		}
		if err := t.sftp.PosixRename(tmpPath, t.configPath); err != nil {
			_ = t.sftp.Remove(tmpPath)
			return fmt.Errorf("rename remote config: %w", err)
		}
		return nil
	})
}

// FetchHostKey connects to host only to read its public key, for pinning in
// wireguard.remote.known_host_key.
func FetchHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)
	errGotKey := errors.New("netkeeper: host key retrieved")

	_, err := ssh.Dial("tcp", withDefaultPort(host), &ssh.ClientConfig{
		User: "netkeeper-probe",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			return errGotKey
		},
		Timeout: 5 * time.Second,
	})
	if err == nil {
		return nil, errors.New("ssh handshake succeeded unexpectedly, could not retrieve key")
	}
	if strings.Contains(err.Error(), errGotKey.Error()) {
		return <-keyChan, nil
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
}
