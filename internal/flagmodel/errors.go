package flagmodel

// ErrorKind classifies why an evaluation did not produce a normal
// targeting match, mirroring the reason codes a real evaluation result
// carries alongside its value.
type ErrorKind string

const (
	ErrorFlagNotFound      ErrorKind = "FLAG_NOT_FOUND"
	ErrorMalformedFlag     ErrorKind = "MALFORMED_FLAG"
	ErrorUserNotSpecified  ErrorKind = "USER_NOT_SPECIFIED"
	ErrorWrongType         ErrorKind = "WRONG_TYPE"
	ErrorClientNotReady    ErrorKind = "CLIENT_NOT_READY"
	ErrorExceptionThrown   ErrorKind = "EXCEPTION"
)

// EvalError wraps an ErrorKind with the flag key it occurred on, for
// logging and for the event pipeline's error-reason field.
type EvalError struct {
	Kind ErrorKind
	Key  string
	Msg  string
}

func (e *EvalError) Error() string {
	if e.Msg != "" {
		return string(e.Kind) + ": " + e.Key + ": " + e.Msg
	}
	return string(e.Kind) + ": " + e.Key
}

// NewEvalError constructs an EvalError.
func NewEvalError(kind ErrorKind, key, msg string) *EvalError {
	return &EvalError{Kind: kind, Key: key, Msg: msg}
}

// SerializedItem is the wire/storage representation of an item: a
// version plus either serialised bytes (Data) or a tombstone
// (Deleted). Persistent stores deal only in this shape; the
// marshal/unmarshal boundary between SerializedItem and a concrete
// *Flag/*Segment lives in datastore, not here.
type SerializedItem struct {
	Version int
	Deleted bool
	Data    []byte
}

