package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/itembills_sync/appctx"
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

// EnsureCorrelationId returns ctx unchanged when it already carries an id.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetCorrelationIdInContext(ctx, id), id
}

func GetRunIdFromContext(ctx context.Context) (uint, bool) {
	v, ok := ctx.Value(appctx.ContextKeyRunId).(uint)
	return v, ok
}

func SetRunIdInContext(ctx context.Context, runId uint) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyRunId, runId)
}

func GetOperatorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyOperator)
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyRole)
}

func SetOperatorInContext(ctx context.Context, operator, role string) context.Context {
	ctx = appctx.Set(ctx, appctx.ContextKeyOperator, operator)
	return appctx.Set(ctx, appctx.ContextKeyRole, role)
}
