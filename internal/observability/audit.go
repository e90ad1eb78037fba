package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits one structured line per admission decision or protected
// action. The durable append-only record is written separately by the audit
// trail service; this line is for live operator tailing.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_ip", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditDecision is the request-free variant used by services and the CLI.
func AuditDecision(actor, action, target, outcome string, attrs ...any) {
	base := []any{
		"event", action,
		"actor", actor,
		"target", target,
		"outcome", outcome,
	}
	base = append(base, attrs...)
	slog.Info("audit", base...)
}
