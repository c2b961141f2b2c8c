package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor. FieldIdentity is also the gin context key set by pkg/middleware.
	FieldIdentity    = "identity"
	FieldDisplayName = "display_name"

	// Realtime
	FieldConnID = "conn_id"
	FieldEvent  = "event"
	FieldReason = "reason"

	// Process
	FieldService = "service"
	FieldSource  = "source"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
