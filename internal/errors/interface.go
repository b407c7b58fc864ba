package errors

// ErrorCode identifies a failure independently of its message. Callers
// branch on codes (HasCode, CodeOf), never on message text.
type ErrorCode string

// Error is a coded error. Data carries a structured payload such as a
// rejection reason or the offending id; Unwrap exposes the cause.
type Error interface {
	error
	Code() ErrorCode
	Data() any
	Unwrap() error
	WithMessage(msg string) Error
	WithData(data any) Error
}

// Factory builds coded errors. Packages hold one per function
// (errFactory := errors.New()) rather than a shared global.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
