package utils

import (
	"context"
	"time"
)

type contextKey string

const ContextMedicIDKey contextKey = "medicID"

// DeviceSession is what the auth layer resolves a device bearer token to.
type DeviceSession struct {
	MedicID   string
	TokenID   string
	ExpiresAt time.Time
}

func WithMedicID(ctx context.Context, medicID string) context.Context {
	return context.WithValue(ctx, ContextMedicIDKey, medicID)
}

func GetMedicIDFromContext(ctx context.Context) (string, bool) {
	medicID := ctx.Value(ContextMedicIDKey)
	medicIDStr, ok := medicID.(string)
	return medicIDStr, ok && medicIDStr != ""
}
