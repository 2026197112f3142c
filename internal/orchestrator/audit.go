package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/ttl"
)

// The audit journal is diagnostic history; every write here is
// best-effort and a failure only logs. The JSON snapshots remain the
// authoritative state.

func (o *Orchestrator) auditCreate(st *sessionState) {
	row := models.SessionAudit{
		SessionKey:      st.sess.Key(),
		ProvisionalID:   st.sess.ProvisionalID,
		IssueID:         st.sess.IssueID,
		RepositoryID:    st.sess.RepositoryID,
		ThreadRootID:    st.sess.ThreadRootID,
		ParentSessionID: st.sess.ParentSessionID,
		Status:          string(st.sess.Status),
		OriginalEventID: st.sess.Metadata.OriginalEventID,
		StartedAt:       st.sess.StartedAt,
		LastActivityAt:  st.sess.LastActivityAt,
	}
	if err := o.db.Create(&row).Error; err != nil {
		log.Printf("orchestrator: audit create %s: %v", st.sess.Key(), err)
	}
}

// auditAssign rewrites the audit rows from the provisional key to the
// worker-assigned one, conversations included, so history queries by
// session ID find the full record.
func (o *Orchestrator) auditAssign(prov string, st *sessionState) {
	key := st.sess.Key()
	err := o.db.Model(&models.SessionAudit{}).
		Where("session_key = ?", prov).
		Updates(map[string]interface{}{
			"session_key":      key,
			"status":           string(st.sess.Status),
			"last_activity_at": st.sess.LastActivityAt,
		}).Error
	if err != nil {
		log.Printf("orchestrator: audit assign %s → %s: %v", prov, key, err)
	}
	if key != prov {
		err = o.db.Model(&models.Conversation{}).
			Where("session_key = ?", prov).
			Update("session_key", key).Error
		if err != nil {
			log.Printf("orchestrator: audit reassign conversations %s: %v", prov, err)
		}
	}
}

func (o *Orchestrator) auditUpdate(st *sessionState) {
	err := o.db.Model(&models.SessionAudit{}).
		Where("session_key = ?", st.sess.Key()).
		Updates(map[string]interface{}{
			"status":           string(st.sess.Status),
			"last_activity_at": st.sess.LastActivityAt,
		}).Error
	if err != nil {
		log.Printf("orchestrator: audit update %s: %v", st.sess.Key(), err)
	}
}

func (o *Orchestrator) auditComplete(st *sessionState) {
	now := time.Now()
	err := o.db.Model(&models.SessionAudit{}).
		Where("session_key = ?", st.sess.Key()).
		Updates(map[string]interface{}{
			"status":           string(st.sess.Status),
			"last_activity_at": st.sess.LastActivityAt,
			"completed_at":     &now,
		}).Error
	if err != nil {
		log.Printf("orchestrator: audit complete %s: %v", st.sess.Key(), err)
	}
}

// recordConversation appends one message to the session's stored exchange.
// These rows rebuild the resume prompt after a restart.
func (o *Orchestrator) recordConversation(st *sessionState, role, author, content string) {
	if content == "" {
		return
	}
	if st.convSeq == 0 {
		var n int64
		if err := o.db.Model(&models.Conversation{}).
			Where("session_key = ?", st.sess.Key()).
			Count(&n).Error; err != nil {
			log.Printf("orchestrator: conversation count %s: %v", st.sess.Key(), err)
		}
		st.convSeq = int(n) + 1
	}

	row := models.Conversation{
		SessionKey: st.sess.Key(),
		Sequence:   st.convSeq,
		Role:       role,
		Author:     author,
		Content:    content,
	}
	if err := o.db.Create(&row).Error; err != nil {
		log.Printf("orchestrator: record conversation %s: %v", st.sess.Key(), err)
		return
	}
	st.convSeq++
}

// loadConversation returns the session's stored exchange, oldest first.
func (o *Orchestrator) loadConversation(key string) []models.Conversation {
	var rows []models.Conversation
	err := o.db.Where("session_key = ?", key).
		Order("sequence asc").
		Find(&rows).Error
	if err != nil {
		log.Printf("orchestrator: load conversation %s: %v", key, err)
		return nil
	}
	return rows
}

// PruneAudit deletes audit rows for sessions that completed before the
// retention cutoff, conversations first. Rows for sessions still running
// are kept regardless of age. Returns the number of sessions pruned.
func (o *Orchestrator) PruneAudit() int {
	cutoff := time.Now().Add(-o.cfg.TTL.Retention())

	var keys []string
	err := o.db.Model(&models.SessionAudit{}).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Pluck("session_key", &keys).Error
	if err != nil {
		log.Printf("orchestrator: audit prune scan: %v", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	if err := o.db.Where("session_key IN ?", keys).Delete(&models.Conversation{}).Error; err != nil {
		log.Printf("orchestrator: audit prune conversations: %v", err)
	}
	if err := o.db.Where("session_key IN ?", keys).Delete(&models.SessionAudit{}).Error; err != nil {
		log.Printf("orchestrator: audit prune sessions: %v", err)
		return 0
	}
	return len(keys)
}

// RunRetentionLoop fires PruneAudit on the configured cron schedule.
// Blocks until ctx is cancelled.
func (o *Orchestrator) RunRetentionLoop(ctx context.Context) {
	for {
		wait := ttl.NextCronDuration(o.cfg.TTL.RetentionCron)
		if wait <= 0 {
			log.Printf("orchestrator: invalid retention cron %q, retention loop stopped", o.cfg.TTL.RetentionCron)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			pruned := o.PruneAudit()
			if pruned > 0 {
				log.Printf("orchestrator: pruned audit history for %d sessions", pruned)
			}
		}
	}
}
