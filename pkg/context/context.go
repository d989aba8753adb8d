package context

import "context"

type ContextKey string

var (
	RequestIDKey     = ContextKey("X-Request-Id")
	MethodKey        = ContextKey("X-Method")
	RouteKey         = ContextKey("X-Route")
	RemoteIPKey      = ContextKey("X-Remote-Ip")
	UserIDKey        = ContextKey("X-User-Id")
	SafetyCheckIDKey = ContextKey("X-Safety-Check-Id")
	WorkOrderIDKey   = ContextKey("X-Work-Order-Id")
	TriggerSourceKey = ContextKey("X-Trigger-Source")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the HTTP request correlation id, not the safety check id.
func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get(ctx, RemoteIPKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return set(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return get(ctx, UserIDKey)
}

func SetSafetyCheckID(ctx context.Context, id string) context.Context {
	return set(ctx, SafetyCheckIDKey, id)
}

func GetSafetyCheckID(ctx context.Context) string {
	return get(ctx, SafetyCheckIDKey)
}

func SetWorkOrderID(ctx context.Context, id string) context.Context {
	return set(ctx, WorkOrderIDKey, id)
}

func GetWorkOrderID(ctx context.Context) string {
	return get(ctx, WorkOrderIDKey)
}

// SetTriggerSource records what started the current unit of work (http, changefeed, cron).
func SetTriggerSource(ctx context.Context, source string) context.Context {
	return set(ctx, TriggerSourceKey, source)
}

func GetTriggerSource(ctx context.Context) string {
	return get(ctx, TriggerSourceKey)
}

// LogFields returns the correlation values present on ctx, keyed for structured logging.
func LogFields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	add := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}

	add("request_id", GetRequestID(ctx))
	add("method", GetMethod(ctx))
	add("route", GetRoute(ctx))
	add("remote_ip", GetRemoteIP(ctx))
	add("user_id", GetUserID(ctx))
	add("safety_check_id", GetSafetyCheckID(ctx))
	add("work_order_id", GetWorkOrderID(ctx))
	add("trigger", GetTriggerSource(ctx))
	return fields
}
