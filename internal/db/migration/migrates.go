package migration

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

var (
	steps    []step
	initOnce sync.Once
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func (m *Migration) Logs() []string {
	return append([]string(nil), m.logs...)
}

// Init registers the built-in steps once.
func Init() {
	initOnce.Do(func() {
		register("close_interrupted_runs", closeInterruptedRuns)
	})
}

func register(name string, fn func(*Migration) error) {
	steps = append(steps, step{name: name, run: fn})
}

// RunAll runs all registered migrations in order. Used for data/behavior one-shots; schema is synced via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

// closeInterruptedRuns marks runs left "running" by a previous server
// process; their PTYs died with it.
func closeInterruptedRuns(m *Migration) error {
	res := m.DB.Exec(
		`UPDATE agent_runs SET status = ?, ended_at = ? WHERE status = ?`,
		"interrupted", time.Now().UTC().Unix(), "running",
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.Log("closed interrupted runs: ", res.RowsAffected)
	}
	return nil
}
