// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

// Package audit records permission decisions for administrators.
// Denials are audit events, not error logs.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mode controls which decisions are recorded.
type Mode string

// Audit modes.
const (
	ModeMinimal     Mode = "minimal"      // admin bypasses + denials
	ModeDenialsOnly Mode = "denials_only" // denials only
	ModeAll         Mode = "all"          // everything
)

// Entry is a single permission decision.
type Entry struct {
	ProjectID  string    `json:"project_id"`
	UserID     string    `json:"user_id"`
	Entity     string    `json:"entity"`
	Action     string    `json:"action"`
	ResourceID string    `json:"resource_id,omitempty"`
	Verdict    string    `json:"verdict"`
	Source     string    `json:"source"`
	DurationUS int64     `json:"duration_us"`
	Timestamp  time.Time `json:"timestamp"`
}

// Writer persists audit entries to a backend.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// SlogWriter writes entries as structured log records on a dedicated
// logger, typically a JSON handler pointed at the audit sink.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a Writer backed by the given logger.
// A nil logger uses slog.Default.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger}
}

// Write emits one entry at Info level.
func (w *SlogWriter) Write(ctx context.Context, entry Entry) error {
	w.logger.InfoContext(ctx, "permission decision",
		"project_id", entry.ProjectID,
		"user_id", entry.UserID,
		"entity", entry.Entity,
		"action", entry.Action,
		"resource_id", entry.ResourceID,
		"verdict", entry.Verdict,
		"source", entry.Source,
		"duration_us", entry.DurationUS,
	)
	return nil
}

var (
	channelFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perm_audit_channel_full_total",
		Help: "Total number of audit entries dropped because the async channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perm_audit_failures_total",
		Help: "Total number of audit write failures",
	}, []string{"reason"})
)

// Logger routes decisions to a Writer based on mode. Writes are
// asynchronous; a full buffer drops the entry and bumps a counter rather
// than blocking the resolver.
type Logger struct {
	mode     Mode
	writer   Writer
	entries  chan Entry
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewLogger creates a Logger and starts its consumer goroutine.
func NewLogger(mode Mode, writer Writer) *Logger {
	l := &Logger{
		mode:    mode,
		writer:  writer,
		entries: make(chan Entry, 1000),
		stop:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.consume()
	return l
}

// Record offers one decision for audit. Never blocks.
func (l *Logger) Record(_ context.Context, entry Entry) {
	if !l.shouldRecord(entry.Verdict, entry.Source) {
		return
	}
	select {
	case l.entries <- entry:
	default:
		channelFullCounter.Inc()
	}
}

// Close stops the consumer after draining buffered entries.
func (l *Logger) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}

func (l *Logger) shouldRecord(verdict, source string) bool {
	switch l.mode {
	case ModeAll:
		return true
	case ModeDenialsOnly:
		return verdict == "deny"
	default: // ModeMinimal
		return verdict == "deny" || source == "admin_bypass"
	}
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.entries:
			l.write(entry)
		case <-l.stop:
			// Drain what is already buffered before exiting.
			for {
				select {
				case entry := <-l.entries:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(entry Entry) {
	if err := l.writer.Write(context.Background(), entry); err != nil {
		failuresCounter.WithLabelValues("write").Inc()
		slog.Warn("audit write failed",
			"error", err,
			"user_id", entry.UserID,
			"verdict", entry.Verdict)
	}
}
