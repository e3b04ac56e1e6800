package tools

import "context"

type ctxKey int

const (
	ctxKeyWorkspace ctxKey = iota
	ctxKeySessionKey
)

// WithToolWorkspace attaches the effective workspace directory for a run.
func WithToolWorkspace(ctx context.Context, workspace string) context.Context {
	return context.WithValue(ctx, ctxKeyWorkspace, workspace)
}

// ToolWorkspaceFromCtx returns the workspace attached by WithToolWorkspace, or "".
func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyWorkspace).(string)
	return v
}

// WithSessionKey attaches the conversation session key to the context, so
// tools can scope state (e.g. pending approvals) per conversation.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeySessionKey, key)
}

// SessionKeyFromCtx returns the session key attached by WithSessionKey, or "".
func SessionKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySessionKey).(string)
	return v
}
