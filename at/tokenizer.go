package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings. A bare LF is accepted as a line
// ending too, since some SIMCom firmwares terminate URCs that way.
//
// Important: This splitter assumes "No Echo" mode (ATE0). With echo enabled
// the command echo shows up as an ordinary data line.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[0:i], []byte("\r")), nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classifier identifies the nature of modem output. The zero value knows the
// standard result codes; modem specific URCs are added with extra prefixes.
type Classifier struct {
	urcPrefixes []string
}

// NewClassifier returns a Classifier that treats lines starting with any of
// the given prefixes as unsolicited result codes.
func NewClassifier(urcPrefixes ...string) *Classifier {
	c := &Classifier{}
	for _, p := range urcPrefixes {
		if p != "" {
			c.urcPrefixes = append(c.urcPrefixes, p)
		}
	}
	return c
}

// Classify identifies the nature of the modem output
func (c *Classifier) Classify(line string) ResponseType {
	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer, ShutOK:
		return TypeFinal
	case UrcCall, UrcReady, UrcSimReady, UrcCallReady:
		return TypeURC
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg), strings.HasPrefix(line, UrcMessageReport):
		return TypeURC
	}

	if c != nil {
		for _, p := range c.urcPrefixes {
			if strings.HasPrefix(line, p) {
				return TypeURC
			}
		}
	}
	return TypeData
}

// Classify identifies the nature of the modem output using only the
// standard result codes.
func Classify(line string) ResponseType {
	return (*Classifier)(nil).Classify(line)
}

// IsSuccess reports whether a final line ends a command successfully.
func IsSuccess(final string) bool {
	return final == OK || final == ShutOK
}
