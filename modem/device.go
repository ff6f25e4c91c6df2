package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/cellnet/at"
)

// SimStatus is the state of the SIM card as reported by AT+CPIN?.
type SimStatus int

const (
	SimUnknown SimStatus = iota
	SimReady
	SimPinRequired
	SimPukRequired
	SimPhonePinRequired
	SimNotInserted
)

func (s SimStatus) String() string {
	switch s {
	case SimReady:
		return "ready"
	case SimPinRequired:
		return "pin required"
	case SimPukRequired:
		return "puk required"
	case SimPhonePinRequired:
		return "phone pin required"
	case SimNotInserted:
		return "not inserted"
	default:
		return "unknown"
	}
}

// ParseSimStatus decodes a "+CPIN: <code>" line.
func ParseSimStatus(line string) SimStatus {
	code, ok := strings.CutPrefix(line, at.PrefixSimStatus)
	if !ok {
		return SimUnknown
	}
	switch strings.TrimSpace(code) {
	case at.SimReady:
		return SimReady
	case at.SimPin:
		return SimPinRequired
	case at.SimPuk:
		return SimPukRequired
	case at.PhoneSimPin:
		return SimPhonePinRequired
	case at.SimNotInserted:
		return SimNotInserted
	default:
		return SimUnknown
	}
}

// Signal is the received signal quality reported by AT+CSQ.
type Signal struct {
	// RSSI is 0..31, or 99 when not known or not detectable.
	RSSI int `json:"rssi"`
	// BER is the bit error rate 0..7, or 99 when not known.
	BER int `json:"ber"`
}

// RSSIUnknown is the RSSI reported while the modem has no signal estimate.
const RSSIUnknown = 99

// Known reports whether the modem has a signal estimate.
func (s Signal) Known() bool {
	return s.RSSI != RSSIUnknown
}

// DBm converts the RSSI to dBm. It returns 0 for an unknown signal.
func (s Signal) DBm() int {
	if !s.Known() {
		return 0
	}
	return -113 + 2*s.RSSI
}

// ParseSignal decodes a "+CSQ: <rssi>,<ber>" line.
func ParseSignal(line string) (Signal, error) {
	rest, ok := strings.CutPrefix(line, at.PrefixSignalQuality)
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	rssiS, berS, ok := strings.Cut(strings.TrimSpace(rest), ",")
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(rssiS))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: rssi in %q", ErrUnexpectedResponse, line)
	}
	ber, err := strconv.Atoi(strings.TrimSpace(berS))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: ber in %q", ErrUnexpectedResponse, line)
	}
	return Signal{RSSI: rssi, BER: ber}, nil
}

// SimStatus queries the SIM card state. A modem answering
// "+CME ERROR: SIM not inserted" yields SimNotInserted without error.
func (m *Modem) SimStatus(ctx context.Context) (SimStatus, error) {
	line, err := m.SendCommandReadSingleLine(ctx, at.CmdSimStatus, at.PrefixSimStatus, 0)
	if err != nil {
		var atErr *Error
		if errors.As(err, &atErr) && strings.Contains(strings.ToLower(atErr.Message()), "not inserted") {
			return SimNotInserted, nil
		}
		return SimUnknown, fmt.Errorf("query SIM status: %w", err)
	}
	return ParseSimStatus(line), nil
}

// EnterPIN submits the SIM PIN as given.
func (m *Modem) EnterPIN(ctx context.Context, pin string) error {
	if err := m.SendCommand(ctx, fmt.Sprintf(`AT+CPIN="%s"`, pin), 0); err != nil {
		return fmt.Errorf("enter SIM PIN: %w", err)
	}
	return nil
}

// SignalQuality queries RSSI and BER.
func (m *Modem) SignalQuality(ctx context.Context) (Signal, error) {
	line, err := m.SendCommandReadSingleLine(ctx, at.CmdSignalQuality, at.PrefixSignalQuality, 0)
	if err != nil {
		return Signal{}, fmt.Errorf("query signal quality: %w", err)
	}
	return ParseSignal(line)
}
