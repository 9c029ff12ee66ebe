package audit

import (
	"context"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

// Audit actions for the chat gateway.
const (
	ActionConnect    = "ws.connect"
	ActionDeny       = "ws.deny"
	ActionJoin       = "ws.join"
	ActionMessage    = "ws.message"
	ActionDisconnect = "ws.disconnect"
	ActionHistory    = "history.read"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger. The acting
// user comes from the logger's user_id field.
func Log(ctx context.Context, action string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldDetail, detail).
		Msg(msg)
}
