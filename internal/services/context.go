package services

import "context"

type contextKey string

const (
	mediaIDKey contextKey = "media_id"
	stageKey   contextKey = "stage"
	partKey    contextKey = "part"
)

// WithMediaID annotates context with the borrowed title's media identifier.
func WithMediaID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, mediaIDKey, id)
}

// MediaIDFromContext extracts the media identifier if present.
func MediaIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(mediaIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPart annotates context with a 1-based part index.
func WithPart(ctx context.Context, index int) context.Context {
	if index <= 0 {
		return ctx
	}
	return context.WithValue(ctx, partKey, index)
}

// PartFromContext returns the part index if present.
func PartFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(partKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}
