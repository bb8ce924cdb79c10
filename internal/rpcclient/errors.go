package rpcclient

import "fmt"

// RPCError is a typed error carrying the JSON-RPC error code, message, and
// the originating method+params, per spec: "single-call failure surfaces
// as a typed error carrying the RPC error code, message, and the
// originating method+params".
type RPCError struct {
	Code    int
	Message string
	Method  string
	Params  []interface{}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error calling %s%v: code=%d message=%s", e.Method, e.Params, e.Code, e.Message)
}

// TimeoutError is returned when a request's context deadline expires,
// distinct from a transport-level error.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc call to %s timed out", e.Method)
}

// TransportError wraps a connection-level failure (refused connection,
// DNS failure, TLS failure, ...).
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport error calling %s: %s", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BatchError is returned when a batch call fails as a whole: the server
// did not answer with a JSON array, or at least one sub-response carried
// an error.
type BatchError struct {
	Reason string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch rpc call failed: %s", e.Reason)
}

// MissingFieldError is returned when a decoded JSON-RPC response is
// missing a field the indexer depends on, per the Design Notes strategy
// of decoding the daemon's loose JSON into a strict internal schema.
type MissingFieldError struct {
	Method string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("rpc response from %s is missing required field %q", e.Method, e.Field)
}
