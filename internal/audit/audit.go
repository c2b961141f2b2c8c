package audit

import (
	"context"

	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

// Audit actions.
const (
	ActionJoin          = "chat.join"
	ActionJoinRejected  = "chat.join_rejected"
	ActionSuperseded    = "chat.superseded"
	ActionSendGlobal    = "chat.send_global"
	ActionSendPrivate   = "chat.send_private"
	ActionDisconnect    = "chat.disconnect"
	ActionLogin         = "auth.login"
	ActionLoginFailed   = "auth.login_failed"
	ActionSignup        = "auth.signup"
	ActionHistoryAppend = "history.append"
)

const (
	FieldAction = "action"
	// FieldActor is who performed the action; connection loggers already
	// carry the identity field.
	FieldActor    = "actor"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit entry through the context logger.
func Log(ctx context.Context, action, actor, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actor).
		Msg(msg)
}

// LogTarget is Log with the identity or conversation the action was aimed at.
func LogTarget(ctx context.Context, action, actor, target, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actor).
		Str(FieldTargetID, target).
		Msg(msg)
}

// LogWithDetail adds a free-form detail field.
func LogWithDetail(ctx context.Context, action, actor, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actor).
		Str(FieldDetail, detail).
		Msg(msg)
}
