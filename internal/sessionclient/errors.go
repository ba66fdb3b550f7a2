package sessionclient

import "fmt"

// NotFoundError means the session does not exist or is not owned by the
// requesting user.
type NotFoundError struct {
	SessionID string
	UserID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found for user %s", e.SessionID, e.UserID)
}

// RemoteClientError is a 4xx response other than 404.
type RemoteClientError struct {
	StatusCode int
	Body       string
}

func (e *RemoteClientError) Error() string {
	return fmt.Sprintf("session service rejected request: status %d: %s", e.StatusCode, e.Body)
}

// RemoteServerError is a 5xx response.
type RemoteServerError struct {
	StatusCode int
	Body       string
}

func (e *RemoteServerError) Error() string {
	return fmt.Sprintf("session service failed: status %d: %s", e.StatusCode, e.Body)
}

// TransportError covers connection failures, timeouts, truncated reads and
// bodies that do not decode.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MappingError means upstream data could not be turned into domain records.
// Retrying will not help until the data is fixed.
type MappingError struct {
	Field string
	Value string
	Err   error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot map %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("cannot map %s: unrecognized value %q", e.Field, e.Value)
}

func (e *MappingError) Unwrap() error { return e.Err }
