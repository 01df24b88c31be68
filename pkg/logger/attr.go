package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserSub records the user subject identifier under the key "user_sub".
func UserSub(sub any) slog.Attr {
	if sub == nil {
		return slog.Attr{}
	}
	return slog.Any("user_sub", sub)
}

// PlanID records a plan identifier under the key "plan_id".
func PlanID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("plan_id", id)
}

// EventID records a provider event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}
