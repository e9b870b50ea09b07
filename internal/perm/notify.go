// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import (
	"context"
	"log/slog"
)

// Notifier delivers single-line, human-readable notifications to the
// acting user's UI session. Exact wording is a UI concern; the occurrence
// of a notification on every failed write and every forced denied action
// is part of the contract.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Notification messages surfaced by the engine.
const (
	MsgPermissionDenied = "You do not have permission to perform this action"
	MsgGrantFailed      = "Failed to grant permission"
	MsgRevokeFailed     = "Failed to revoke permission"
	MsgBulkUpdateFailed = "Some permission changes could not be saved"
	MsgRoleSaveFailed   = "Failed to save role"
	MsgAccessFailed     = "Failed to update access"
)

// NopNotifier discards all notifications. Used where no UI is attached.
type NopNotifier struct{}

// Notify discards the message.
func (NopNotifier) Notify(_ context.Context, _ string) {}

var _ Notifier = NopNotifier{}

// SlogNotifier logs notifications. It stands in for a UI transport when
// the engine runs headless.
type SlogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the message at Info level.
func (n SlogNotifier) Notify(ctx context.Context, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "user notification", "message", message)
}

var _ Notifier = SlogNotifier{}
