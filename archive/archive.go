// Package archive persists completed sessions, handoffs, and
// delegations to a relational store before cleanup discards them from
// memory. The archive is write-mostly; reads are for audits and
// offline analysis, never for scheduling.
package archive

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taskmesh/taskmesh/collab"
	"github.com/taskmesh/taskmesh/delegation"
	"github.com/taskmesh/taskmesh/handoff"
	"github.com/taskmesh/taskmesh/types"
)

// Config configures the archive store.
type Config struct {
	// Enabled gates archiving; cleanup works without it.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the sqlite database file. ":memory:" is valid for tests.
	Path string `json:"path" yaml:"path"`
}

// ArchivedSession is one retired collaboration session row. Tasks are
// stored as a JSON blob; the archive is not queried per task.
type ArchivedSession struct {
	SessionID    string    `gorm:"primaryKey;size:64"`
	Title        string    `gorm:"size:255"`
	Status       string    `gorm:"size:32;index"`
	Participants string    `gorm:"type:text"`
	TaskIDs      string    `gorm:"type:text"`
	Priority     int
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
	ArchivedAt   time.Time `gorm:"index"`
}

// ArchivedHandoff is one retired handoff row.
type ArchivedHandoff struct {
	HandoffID      string `gorm:"primaryKey;size:64"`
	OriginalTaskID string `gorm:"size:64;index"`
	FromAgent      string `gorm:"size:64;index"`
	ToAgent        string `gorm:"size:64;index"`
	Reason         string `gorm:"type:text"`
	Status         string `gorm:"size:32"`
	Success        *bool
	Context        string `gorm:"type:text"`
	Progress       string `gorm:"type:text"`
	Results        string `gorm:"type:text"`
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ArchivedAt     time.Time `gorm:"index"`
}

// ArchivedDelegation is one settled delegation row.
type ArchivedDelegation struct {
	DelegationID    string `gorm:"primaryKey;size:64"`
	TaskDescription string `gorm:"type:text"`
	FromAgent       string `gorm:"size:64"`
	ToAgent         string `gorm:"size:64;index"`
	Reason          string `gorm:"size:32"`
	Status          string `gorm:"size:32;index"`
	Priority        int
	ResponseMessage string `gorm:"type:text"`
	CreatedAt       time.Time
	RespondedAt     *time.Time
	ArchivedAt      time.Time `gorm:"index"`
}

// ignoreConflicts keeps a retried cleanup idempotent.
var ignoreConflicts = clause.OnConflict{DoNothing: true}

// Store writes retired entities to sqlite.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open creates the sqlite database and migrates the archive tables.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "taskmesh_archive.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to open archive database").WithCause(err)
	}
	if err := db.AutoMigrate(&ArchivedSession{}, &ArchivedHandoff{}, &ArchivedDelegation{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to migrate archive schema").WithCause(err)
	}

	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "archive")),
		now:    time.Now,
	}, nil
}

// Sessions archives retired sessions. Duplicate session ids are
// ignored so a retried cleanup stays idempotent.
func (s *Store) Sessions(sessions []collab.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	rows := make([]ArchivedSession, 0, len(sessions))
	archivedAt := s.now()
	for _, sess := range sessions {
		rows = append(rows, ArchivedSession{
			SessionID:    sess.ID,
			Title:        sess.Title,
			Status:       string(sess.Status),
			Participants: mustJSON(sess.Participants),
			TaskIDs:      mustJSON(sess.TaskIDs),
			Priority:     sess.Priority,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			ArchivedAt:   archivedAt,
		})
	}
	if err := s.db.Clauses(ignoreConflicts).Create(&rows).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "failed to archive sessions").WithCause(err)
	}
	s.logger.Debug("sessions archived", zap.Int("count", len(rows)))
	return nil
}

// Handoffs archives retired handoffs.
func (s *Store) Handoffs(handoffs []handoff.Handoff) error {
	if len(handoffs) == 0 {
		return nil
	}
	rows := make([]ArchivedHandoff, 0, len(handoffs))
	archivedAt := s.now()
	for _, h := range handoffs {
		rows = append(rows, ArchivedHandoff{
			HandoffID:      h.ID,
			OriginalTaskID: h.OriginalTaskID,
			FromAgent:      h.FromAgent,
			ToAgent:        h.ToAgent,
			Reason:         h.Reason,
			Status:         string(h.Status),
			Success:        h.Success,
			Context:        mustJSON(h.Context),
			Progress:       mustJSON(h.Progress),
			Results:        mustJSON(h.Results),
			CreatedAt:      h.CreatedAt,
			CompletedAt:    h.CompletedAt,
			ArchivedAt:     archivedAt,
		})
	}
	if err := s.db.Clauses(ignoreConflicts).Create(&rows).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "failed to archive handoffs").WithCause(err)
	}
	s.logger.Debug("handoffs archived", zap.Int("count", len(rows)))
	return nil
}

// Delegations archives settled delegation requests.
func (s *Store) Delegations(requests []delegation.Request) error {
	if len(requests) == 0 {
		return nil
	}
	rows := make([]ArchivedDelegation, 0, len(requests))
	archivedAt := s.now()
	for _, req := range requests {
		rows = append(rows, ArchivedDelegation{
			DelegationID:    req.ID,
			TaskDescription: req.TaskDescription,
			FromAgent:       req.FromAgent,
			ToAgent:         req.ToAgent,
			Reason:          string(req.Reason),
			Status:          string(req.Status),
			Priority:        req.Priority,
			ResponseMessage: req.ResponseMessage,
			CreatedAt:       req.CreatedAt,
			RespondedAt:     req.RespondedAt,
			ArchivedAt:      archivedAt,
		})
	}
	if err := s.db.Clauses(ignoreConflicts).Create(&rows).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "failed to archive delegations").WithCause(err)
	}
	s.logger.Debug("delegations archived", zap.Int("count", len(rows)))
	return nil
}

// Counts reports row counts per table for status queries.
func (s *Store) Counts() (sessions, handoffs, delegations int64, err error) {
	if err = s.db.Model(&ArchivedSession{}).Count(&sessions).Error; err != nil {
		return 0, 0, 0, types.NewError(types.ErrStoreUnavailable, "failed to count archive").WithCause(err)
	}
	if err = s.db.Model(&ArchivedHandoff{}).Count(&handoffs).Error; err != nil {
		return 0, 0, 0, types.NewError(types.ErrStoreUnavailable, "failed to count archive").WithCause(err)
	}
	if err = s.db.Model(&ArchivedDelegation{}).Count(&delegations).Error; err != nil {
		return 0, 0, 0, types.NewError(types.ErrStoreUnavailable, "failed to count archive").WithCause(err)
	}
	return sessions, handoffs, delegations, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
