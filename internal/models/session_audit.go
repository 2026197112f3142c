// Package models defines the GORM models for Conductor's audit database.
// The audit store is diagnostic and recovery history; the authoritative
// orchestrator state lives in the per-repository JSON snapshots.
package models

import "time"

// SessionAudit journals one session's lifecycle: every status transition
// updates the row, so the table is a queryable history of all work the
// daemon has performed. Rows older than the retention period are removed
// for terminal sessions only.
type SessionAudit struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SessionKey      string `gorm:"size:128;not null;uniqueIndex"` // worker ID, or provisional ID until assigned
	ProvisionalID   string `gorm:"size:64;index"`
	IssueID         string `gorm:"size:128;index"`
	RepositoryID    string `gorm:"size:128;not null;index"`
	ThreadRootID    string `gorm:"size:128;not null;index"`
	ParentSessionID string `gorm:"size:128;index"`
	Status          string `gorm:"size:24;not null;index"`
	OriginalEventID string `gorm:"size:128"`
	StartedAt       time.Time
	LastActivityAt  time.Time `gorm:"index"`
	CompletedAt     *time.Time
	CreatedAt       time.Time

	Conversations []Conversation `gorm:"foreignKey:SessionKey;references:SessionKey"`
}

// Conversation stores one message of a session's exchange with the thread.
// Resume prompts after a restart are rebuilt from these rows, in the same
// way the worker saw them the first time.
type Conversation struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionKey string `gorm:"size:128;not null;index"`
	Sequence   int    `gorm:"not null"`
	Role       string `gorm:"size:16;not null"` // "user", "assistant", "system"
	Author     string `gorm:"size:64"`
	Content    string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}
