package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Resource errors
	ErrResourceBusy      ErrorCode = "resource_busy"
	ErrResourceNotFound  ErrorCode = "resource_not_found"
	ErrResourceExhausted ErrorCode = "resource_exhausted"

	// Scheduling and inference errors
	ErrRejected           ErrorCode = "rejected"
	ErrConfiguration      ErrorCode = "configuration_error"
	ErrModelLoad          ErrorCode = "model_load_failed"
	ErrGeneration         ErrorCode = "generation_failed"
	ErrSafetyViolation    ErrorCode = "safety_violation"
	ErrDependencyMissing  ErrorCode = "dependency_unavailable"
	ErrSensorReadFailed   ErrorCode = "sensor_read_failed"
	ErrDeviceQueryFailed  ErrorCode = "device_query_failed"
	ErrSessionNotFound    ErrorCode = "session_not_found"
	ErrNoModelLoaded      ErrorCode = "no_model_loaded"
	ErrSessionClosed      ErrorCode = "session_closed"
	ErrModelUnloaded      ErrorCode = "model_unloaded"
	ErrPoolClosed         ErrorCode = "pool_closed"
	ErrApplication        ErrorCode = "application_failed"
	ErrStartDaemon        ErrorCode = "start_daemon_failed"
	ErrTelemetryDisabled  ErrorCode = "telemetry_disabled"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrNotImplemented:    "Operation not implemented",
	ErrUnavailable:       "Service unavailable",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrMissingConfig:     "Missing configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrResourceBusy:      "Resource is busy",
	ErrResourceNotFound:  "Resource not found",
	ErrResourceExhausted: "Resource exhausted",
	ErrRejected:          "Request rejected by policy",
	ErrConfiguration:     "Invalid resource configuration",
	ErrModelLoad:         "Failed to load model",
	ErrGeneration:        "Generation failed",
	ErrSafetyViolation:   "Safety check failed",
	ErrDependencyMissing: "Required dependency unavailable",
	ErrSensorReadFailed:  "Failed to read sensor",
	ErrDeviceQueryFailed: "Failed to query device",
	ErrSessionNotFound:   "Session not found",
	ErrNoModelLoaded:     "No model loaded",
	ErrSessionClosed:     "Session closed",
	ErrModelUnloaded:     "Model unloaded",
	ErrPoolClosed:        "Worker pool closed",
	ErrApplication:       "Application error",
	ErrStartDaemon:       "Failed to start daemon",
	ErrTelemetryDisabled: "Telemetry disabled",
	ErrOperationFailed:   "Operation failed",
	ErrTimeout:           "Operation timed out",
	ErrInvalidOperation:  "Invalid operation",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
