package db

const (
	RunStatusRunning     = "running"
	RunStatusExited      = "exited"
	RunStatusStopped     = "stopped"
	RunStatusSpawnFailed = "spawn_failed"
	RunStatusInterrupted = "interrupted"
)

// AgentRun is one launch attempt of the external agent. Credentials are
// never stored.
type AgentRun struct {
	RunID     string `gorm:"column:run_id;primaryKey"`
	SessionID string `gorm:"column:session_id;not null;default:'';index"`
	Attempt   int    `gorm:"column:attempt;not null;default:0"`
	Profile   string `gorm:"column:profile;not null;default:''"`
	Model     string `gorm:"column:model;not null;default:''"`
	PID       int    `gorm:"column:pid;not null;default:0"`
	Status    string `gorm:"column:status;not null;default:'running'"`
	ExitCode  int    `gorm:"column:exit_code;not null;default:0"`
	LastError string `gorm:"column:last_error;not null;default:''"`
	StartedAt int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt   int64  `gorm:"column:ended_at;not null;default:0"`
}

func (AgentRun) TableName() string { return "agent_runs" }

type RunEvent struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;not null;default:''"`
	RunID     string `gorm:"column:run_id;not null;default:''"`
	Level     string `gorm:"column:level;not null;default:'info'"`
	Message   string `gorm:"column:message;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
}

func (RunEvent) TableName() string { return "run_events" }
