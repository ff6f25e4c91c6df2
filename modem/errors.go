package modem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/cellnet/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Modem was not created
	// via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still reading from the transport.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrCommandTimeout is returned when the modem did not terminate a
	// command with a final result code in time.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrUnexpectedResponse is returned when a command succeeded but its
	// intermediate line could not be parsed.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Error is returned when the modem terminates a command with a final result
// code other than OK, such as ERROR or +CME ERROR: <err>.
type Error struct {
	// Command is the AT command that failed.
	Command string
	// Result is the final result line as received from the modem.
	Result string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Result)
}

// Code returns the numeric CME/CMS error code, if the modem reported one.
// Verbose error reporting (AT+CMEE=2) yields text instead of numbers.
func (e *Error) Code() (int, bool) {
	msg, ok := e.detail()
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(msg)
	if err != nil {
		return 0, false
	}
	return code, true
}

// Message returns the text following +CME ERROR: or +CMS ERROR:, or the
// bare result code.
func (e *Error) Message() string {
	if msg, ok := e.detail(); ok {
		return msg
	}
	return e.Result
}

func (e *Error) detail() (string, bool) {
	for _, prefix := range []string{at.CmeError, at.CmsError} {
		if rest, ok := strings.CutPrefix(e.Result, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
