package session

// Recorder receives operation outcomes. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	// AuthOp records one orchestrator call. outcome is "ok" or an error kind.
	AuthOp(op, outcome string)

	// Swept records rows affected by a maintenance job.
	Swept(job string, n int)

	// Stats publishes a TokenStats snapshot.
	Stats(st TokenStats)
}

type nopRecorder struct{}

func (nopRecorder) AuthOp(string, string) {}
func (nopRecorder) Swept(string, int)     {}
func (nopRecorder) Stats(TokenStats)      {}

// outcome maps an orchestrator error to a Recorder outcome label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAlreadyExists(err):
		return ErrAlreadyExists.Error()
	case IsNotFound(err):
		return ErrNotFound.Error()
	case IsForbidden(err):
		return ErrForbidden.Error()
	case IsUnauthorized(err):
		return ErrUnauthorized.Error()
	case IsInvalidInput(err):
		return ErrInvalidInput.Error()
	default:
		return ErrInternal.Error()
	}
}
