// Package runlog records launch attempts and their log lines in the
// shared sqlite database.
package runlog

import (
	"errors"
	"strings"
	"time"

	dbmodel "agentdeck/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusRunning     = dbmodel.RunStatusRunning
	StatusExited      = dbmodel.RunStatusExited
	StatusStopped     = dbmodel.RunStatusStopped
	StatusSpawnFailed = dbmodel.RunStatusSpawnFailed
	StatusInterrupted = dbmodel.RunStatusInterrupted
)

type Run struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Attempt   int       `json:"attempt"`
	Profile   string    `json:"profile"`
	Model     string    `json:"model"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exit_code"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses the shared global DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("run log store is not initialized")
	}
	return nil
}

// RunStarted inserts run, replacing a row with the same run id.
func (s *Store) RunStarted(run Run) error {
	if err := s.ready(); err != nil {
		return err
	}
	id := strings.TrimSpace(run.RunID)
	if id == "" {
		return errors.New("run id is required")
	}
	started := run.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	row := dbmodel.AgentRun{
		RunID:     id,
		SessionID: run.SessionID,
		Attempt:   run.Attempt,
		Profile:   run.Profile,
		Model:     run.Model,
		PID:       run.PID,
		Status:    status,
		ExitCode:  run.ExitCode,
		LastError: run.LastError,
		StartedAt: started.UTC().Unix(),
		EndedAt:   unixOrZero(run.EndedAt),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// RunEnded closes a run. Closing an unknown run is not an error.
func (s *Store) RunEnded(runID, status string, exitCode int, lastErr string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Model(&dbmodel.AgentRun{}).
		Where("run_id = ?", strings.TrimSpace(runID)).
		Updates(map[string]any{
			"status":     status,
			"exit_code":  exitCode,
			"last_error": lastErr,
			"ended_at":   s.now().UTC().Unix(),
		}).Error
}

func (s *Store) AppendEvent(sessionID, runID, level, message string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Create(&dbmodel.RunEvent{
		SessionID: sessionID,
		RunID:     runID,
		Level:     level,
		Message:   message,
		CreatedAt: s.now().UTC().UnixMilli(),
	}).Error
}

// List returns the newest runs first. An empty sessionID lists every session.
func (s *Store) List(sessionID string, limit int) ([]Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	q := s.db.Order("started_at DESC").Order("attempt DESC").Limit(limit)
	if sid := strings.TrimSpace(sessionID); sid != "" {
		q = q.Where("session_id = ?", sid)
	}
	rows := make([]dbmodel.AgentRun, 0, limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		r := Run{
			RunID:     row.RunID,
			SessionID: row.SessionID,
			Attempt:   row.Attempt,
			Profile:   row.Profile,
			Model:     row.Model,
			PID:       row.PID,
			Status:    row.Status,
			ExitCode:  row.ExitCode,
			LastError: row.LastError,
			StartedAt: time.Unix(row.StartedAt, 0).UTC(),
		}
		if row.EndedAt > 0 {
			r.EndedAt = time.Unix(row.EndedAt, 0).UTC()
		}
		out = append(out, r)
	}
	return out, nil
}

// Events returns the newest log lines of a run, oldest first.
func (s *Store) Events(runID string, limit int) ([]Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows := make([]dbmodel.RunEvent, 0, limit)
	if err := s.db.Where("run_id = ?", strings.TrimSpace(runID)).
		Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		out = append(out, Event{
			ID:        row.ID,
			SessionID: row.SessionID,
			RunID:     row.RunID,
			Level:     row.Level,
			Message:   row.Message,
			CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}
