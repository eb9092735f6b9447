package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/device-ledger/internal/audit"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for the request's caller (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(r *http.Request, action string, device ledger.Principal, outcome string, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	if requestID, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		if details == nil {
			details = map[string]any{}
		}
		details["request_id"] = requestID
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityDevice,
		EntityID:   device.String(),
		UserID:     callerFrom(r.Context()).String(),
		Source:     "api",
		Outcome:    outcome,
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"device", device,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled, then
// writes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"outcome", entry.Outcome,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit log entries. Admin only.
//
// Query parameters:
//   - action: register, change_state
//   - entity_id: device principal
//   - user_id: calling principal
//   - outcome: accepted, rejected, error
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "audit logging not configured")
		return
	}
	if callerFrom(r.Context()) != s.registry.Admin() {
		writeForbidden(w, "audit log is restricted to the ledger admin")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
		UserID:   q.Get("user_id"),
		Outcome:  q.Get("outcome"),
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
