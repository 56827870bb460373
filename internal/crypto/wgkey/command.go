// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wgkey

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/toeirei/netkeeper/internal/logging"
)

// RunFunc executes name with args, feeding stdin, and returns stdout.
type RunFunc func(ctx context.Context, stdin string, name string, args ...string) (string, error)

// Command generates keys by shelling out to `wg genkey` and `wg pubkey`.
type Command struct {
	UseSudo bool
	Timeout time.Duration
	// Run defaults to os/exec. Tests replace it.
	Run RunFunc
}

// Generate implements Generator.
func (c Command) Generate(ctx context.Context) (KeyPair, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := c.Run
	if run == nil {
		run = execRun
	}

	priv, err := run(ctx, "", c.bin(), c.args("genkey")...)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg genkey: %v", ErrKeygenFailed, err)
	}
	priv = strings.TrimSpace(priv)
	if err := Validate(priv); err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg genkey output: %v", ErrKeygenFailed, err)
	}

	pub, err := run(ctx, priv+"\n", c.bin(), c.args("pubkey")...)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg pubkey: %v", ErrKeygenFailed, err)
	}
	pub = strings.TrimSpace(pub)
	if err := Validate(pub); err != nil {
		return KeyPair{}, fmt.Errorf("%w: wg pubkey output: %v", ErrKeygenFailed, err)
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

func (c Command) bin() string {
	if c.UseSudo {
		return "sudo"
	}
	return "wg"
}

func (c Command) args(sub string) []string {
	if c.UseSudo {
		return []string{"wg", sub}
	}
	return []string{sub}
}

func execRun(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logging.Debugf("exec %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
