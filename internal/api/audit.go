package api

import (
	"net/http"
	"strconv"

	"github.com/epitome-sim/reverie-core/internal/audit"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action type (create, delete, launch, stop)
//   - entity_id: filter by experiment id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
