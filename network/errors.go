package network

import "errors"

var (
	// ErrRetriesExhausted is returned by Connect when the retry budget ran out.
	// It wraps the error of the last failed step.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRadioReconfigure is returned when toggling the radio to write a new
	// APN failed. Connect does not retry it since the radio may be left off.
	ErrRadioReconfigure = errors.New("radio reconfiguration failed")

	// ErrSimNotReady is reported while the SIM is locked or absent.
	ErrSimNotReady = errors.New("SIM not ready")

	// ErrNoSignal is reported while the modem has no signal estimate.
	ErrNoSignal = errors.New("no signal")

	// ErrNoIPAddress is reported while the data context has no usable address.
	ErrNoIPAddress = errors.New("no IP address assigned")

	// ErrMalformedResponse is returned when a response line cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnknownModel is returned by ModelByName for unsupported modems.
	ErrUnknownModel = errors.New("unknown modem model")

	// ErrClosed is returned by operations on a closed Network.
	ErrClosed = errors.New("network closed")
)
