package audit

import "context"

// Logger is the logging interface used by Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes experiment actions to a Repository. Failures are logged,
// never returned: an audit outage must not fail the action itself.
// A nil *Recorder records nothing.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Experiment records action against experiment id.
func (r *Recorder) Experiment(ctx context.Context, action, id, userID string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}

	entry := &AuditLog{
		Action:     action,
		EntityType: EntityExperiment,
		EntityID:   id,
		UserID:     userID,
		Source:     SourceAPI,
		Details:    details,
	}
	if err := r.repo.Create(ctx, entry); err != nil && r.logger != nil {
		r.logger.Warn("audit write failed", "action", action, "id", id, "error", err)
	}
}
