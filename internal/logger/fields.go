package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID is the classification run ID
	FieldRunID = "run_id"

	// FieldDataset is the dataset reference of a run
	FieldDataset = "dataset"

	// FieldColumn is the column being classified
	FieldColumn = "column"

	// FieldBatch is the batch sequence within its column
	FieldBatch = "batch"

	// FieldWorker is the parallel worker index
	FieldWorker = "worker"

	// FieldCredential is the masked credential in use
	FieldCredential = "credential"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldRows is the number of rows involved
	FieldRows = "rows"

	// FieldAttempt is the retry attempt number
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
