package middleware

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// Constants for middleware keys and values
const (
	// --- Logger Keys ---
	RequestFileLoggerKey  ContextKey = "requestFileLogger"
	RequestRelayLoggerKey ContextKey = "requestRelayLogger"
	RequestIDHeader                  = "X-Request-ID" // Header name

	// --- Ingestion Hint Headers ---
	LevelHintHeader  = "X-Level"
	SourceHintHeader = "X-Source"

	// --- Request ID Key ---
	RequestIDKey ContextKey = "requestID" // Key to store the request ID string in Locals
)
