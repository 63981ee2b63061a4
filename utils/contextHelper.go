package utils

import (
	"context"
	"time"

	"github.com/mmdatafocus/supplymap_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeySiteId        = appctx.ContextKeySiteId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyToday         = appctx.ContextKeyToday
)

const SystemUserName = "System"

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

// ActorFromContext returns the acting user's name, falling back to SystemUserName.
func ActorFromContext(ctx context.Context) string {
	if name, ok := GetUserNameFromContext(ctx); ok && name != "" {
		return name
	}
	return SystemUserName
}

func GetSiteIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeySiteId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetSiteIdInContext(ctx context.Context, siteId int) context.Context {
	return appctx.Set(ctx, ContextKeySiteId, siteId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// SetTodayInContext pins the calendar date used for overdue checks.
func SetTodayInContext(ctx context.Context, today time.Time) context.Context {
	return appctx.Set(ctx, ContextKeyToday, today)
}

// TodayFromContext returns the pinned date or the current UTC date.
func TodayFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ContextKeyToday).(time.Time); ok && !v.IsZero() {
		return TruncateToDate(v)
	}
	return TruncateToDate(time.Now().UTC())
}

func TruncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
