package supervisor

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventLog          EventKind = "log"
	EventTerminalData EventKind = "terminal_data"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Event is one notification pushed to every client of a session.
type Event struct {
	Session string
	Kind    EventKind
	Status  string
	Level   string
	Message string
	Data    []byte
}

// Sink receives session events in emission order. Emit is called with the
// session lock held and must not block or call back into the session.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
