// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"os/user"
	"strings"
	"time"

	"github.com/toeirei/netkeeper/internal/model"
	"github.com/uptrace/bun"
)

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(u.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return u.Username
}

func logAction(ctx context.Context, q bun.IDB, action, details string) error {
	am := &AuditLogModel{
		Timestamp: time.Now().UTC(),
		Username:  currentUsername(),
		Action:    action,
		Details:   details,
	}
	_, err := q.NewInsert().Model(am).Exec(ctx)
	return MapDBError(err)
}

// LogAction records an audit trail event attributed to the current OS user.
func (s *Store) LogAction(ctx context.Context, action, details string) error {
	return logAction(ctx, s.bun, action, details)
}

// AuditLog returns up to limit entries, most recent first. A limit of zero
// or less returns everything.
func (s *Store) AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	var rows []AuditLogModel
	q := s.bun.NewSelect().Model(&rows).OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, auditModelToModel(r))
	}
	return out, nil
}
