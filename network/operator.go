package network

import (
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/cellnet/at"
)

// OperatorType is the availability of an operator in a scan.
type OperatorType int

const (
	OperatorUnknown OperatorType = iota
	OperatorAvailable
	OperatorCurrent
	OperatorForbidden
)

func (t OperatorType) String() string {
	switch t {
	case OperatorUnknown:
		return "unknown"
	case OperatorAvailable:
		return "available"
	case OperatorCurrent:
		return "current"
	case OperatorForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("OperatorType(%d)", int(t))
	}
}

func (t OperatorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// SystemMode is the radio access technology of an operator.
type SystemMode int

const (
	ModeGSM        SystemMode = 0
	ModeGSMCompact SystemMode = 1
	ModeUTRAN      SystemMode = 2
	ModeEGPRS      SystemMode = 3
	ModeLTEM       SystemMode = 7
	ModeNBIoT      SystemMode = 9
)

func (m SystemMode) String() string {
	switch m {
	case ModeGSM:
		return "GSM"
	case ModeGSMCompact:
		return "GSM compact"
	case ModeUTRAN:
		return "UTRAN"
	case ModeEGPRS:
		return "EGPRS"
	case ModeLTEM:
		return "LTE-M"
	case ModeNBIoT:
		return "NB-IoT"
	default:
		return fmt.Sprintf("SystemMode(%d)", int(m))
	}
}

func (m SystemMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Operator is one entry of an AT+COPS=? scan.
type Operator struct {
	Type       OperatorType `json:"type"`
	Name       string       `json:"name"`
	ShortName  string       `json:"short_name"`
	Format     string       `json:"format"`
	SystemMode SystemMode   `json:"system_mode"`
}

// ParseOperators decodes a scan line such as
//
//	+COPS: (1,"Orange F","Orange","20801",7),(2,"SFR","SFR","20810",7),,(0,1,2,3,4),(0,1,2)
//
// The list of supported modes and formats after ",," is ignored. Commas and
// parentheses inside quoted names are kept. A scan without any operator
// yields an empty, non-nil slice.
func ParseOperators(line string) ([]Operator, error) {
	rest, ok := strings.CutPrefix(line, at.PrefixOperator)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}
	rest = strings.TrimSpace(rest)

	operators := []Operator{}
	for rest != "" && !strings.HasPrefix(rest, ",,") {
		body, tail, ok := cutGroup(strings.TrimPrefix(rest, ","))
		if !ok {
			return nil, fmt.Errorf("%w: operator entry %q", ErrMalformedResponse, rest)
		}
		op, err := parseOperator(body)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
		rest = tail
	}
	return operators, nil
}

func parseOperator(body string) (Operator, error) {
	fields := splitFields(body)
	if len(fields) != 5 {
		return Operator{}, fmt.Errorf("%w: operator entry %q", ErrMalformedResponse, body)
	}
	typ, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Operator{}, fmt.Errorf("%w: operator type in %q", ErrMalformedResponse, body)
	}
	mode, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return Operator{}, fmt.Errorf("%w: system mode in %q", ErrMalformedResponse, body)
	}
	return Operator{
		Type:       OperatorType(typ),
		Name:       unquote(fields[1]),
		ShortName:  unquote(fields[2]),
		Format:     unquote(fields[3]),
		SystemMode: SystemMode(mode),
	}, nil
}

// cutGroup splits the leading parenthesised group off s and returns its
// contents and what follows. A ')' inside quotes does not close the group.
func cutGroup(s string) (body, rest string, ok bool) {
	if !strings.HasPrefix(s, "(") {
		return "", s, false
	}
	quoted := false
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ')':
			if !quoted {
				return s[1:i], s[i+1:], true
			}
		}
	}
	return "", s, false
}

// splitFields splits s on the commas outside double quotes.
func splitFields(s string) []string {
	var fields []string
	quoted := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, s[start:])
}

// parseCurrentOperator extracts the operator name of an AT+COPS? answer,
// e.g. +COPS: 0,0,"Orange F",7. It is empty while unregistered.
func parseCurrentOperator(line string) string {
	rest, ok := strings.CutPrefix(line, at.PrefixOperator)
	if !ok {
		return ""
	}
	fields := splitFields(strings.TrimSpace(rest))
	if len(fields) < 3 {
		return ""
	}
	return unquote(fields[2])
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
