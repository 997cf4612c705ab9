package persist

import "fmt"

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type funneled through the coordinator's error hook.
// It wraps a return code (of type RetCode) together with the operation and
// storage key that failed, so a host can log or alert with full context.
type Error struct {
	Code RetCode // The return code
	Op   string  // The coordinator operation that failed (hydrate, flush, ...)
	Key  string  // The storage key involved, if any
	Msg  string  // The error message
	Err  error   // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCNotInitialized:
		errorCode = "NotInitialized"
	case RetCEncode:
		errorCode = "Encode"
	case RetCDecode:
		errorCode = "Decode"
	case RetCMigrate:
		errorCode = "Migrate"
	case RetCBackendIO:
		errorCode = "BackendIO"
	case RetCDisposed:
		errorCode = "Disposed"
	default:
		errorCode = "Unknown"
	}

	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Key != "" {
		return fmt.Sprintf("PersistError (code %s, op %s, key %q): %s", errorCode, e.Op, e.Key, msg)
	}
	return fmt.Sprintf("PersistError (code %s, op %s): %s", errorCode, e.Op, msg)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code, operation context and message.
func NewError(code RetCode, op, key, msg string) *Error {
	return &Error{
		Code: code,
		Op:   op,
		Key:  key,
		Msg:  msg,
	}
}

// WrapError creates a new Error wrapping an underlying error with operation context.
func WrapError(code RetCode, op, key string, err error) *Error {
	return &Error{
		Code: code,
		Op:   op,
		Key:  key,
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Operation executed successfully.
	RetCNotInitialized                // 1: Backend accessed before SetBackend.
	RetCEncode                        // 2: Container's encoder failed or produced an unmarshalable record.
	RetCDecode                        // 3: Container's decoder or record unmarshalling failed.
	RetCMigrate                       // 4: Migration produced no record.
	RetCBackendIO                     // 5: Backend read/write/delete failed.
	RetCDisposed                      // 6: Operation on an already disposed coordinator.
)
