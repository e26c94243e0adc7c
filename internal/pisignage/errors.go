package pisignage

import (
	"errors"
	"fmt"
)

// ErrOTPRequired is returned by Authenticate when the server account needs a
// one-time passcode. It is a control-flow signal, not a failure: the caller
// should obtain the passcode and call AuthenticateOTP before any further
// request can succeed.
var ErrOTPRequired = errors.New("one-time passcode required")

// ConnectivityError indicates the server could not be reached: network
// unreachable, DNS failure, or timeout.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot connect to pisignage server (%s): %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// AuthenticationError indicates the server rejected the credentials or
// answered the authentication handshake ambiguously. Surfaced distinctly from
// connectivity errors so the user can be prompted to re-enter credentials
// instead of simply retrying.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// MalformedResponseError indicates a response body that was not valid JSON or
// did not carry the expected fields. The raw body is retained for logging.
type MalformedResponseError struct {
	Body []byte
	Err  error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from server: %v", e.Err)
	}
	return "malformed response from server: unrecognized shape"
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
