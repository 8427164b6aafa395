package tenancy

import "context"

type ctxKey string

const (
	userKey     ctxKey = "propreach.user_id"
	locationKey ctxKey = "propreach.location_id"
)

// WithUserID stores the account (integration owner) id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the account id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, userKey)
}

// WithLocationID stores the CRM sub-account (location) id in context.
func WithLocationID(ctx context.Context, locationID string) context.Context {
	return context.WithValue(ctx, locationKey, locationID)
}

// LocationIDFromContext extracts the CRM location id if present.
func LocationIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, locationKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
