package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// RequestIDKey carries the id of the invocation or HTTP request that
	// triggered processing, so log lines from one event can be correlated.
	RequestIDKey = ContextKey("request_id")
)
