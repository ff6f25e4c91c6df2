package at

const (
	// Terminal Control
	CRLF = "\r\n"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	ShutOK     = "SHUT OK" // AT+CIPSHUT on SIM800
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// Setup commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"

	// SIM and signal
	CmdSimStatus     = "AT+CPIN?"
	CmdSignalQuality = "AT+CSQ"

	// Radio and operator
	CmdRadioOff          = "AT+CFUN=0"
	CmdRadioOn           = "AT+CFUN=1"
	CmdOperatorQuery     = "AT+COPS?"
	CmdOperatorAutomatic = "AT+COPS=0"
	CmdOperatorScan      = "AT+COPS=?"

	// Response prefixes
	PrefixSimStatus     = "+CPIN:"
	PrefixSignalQuality = "+CSQ:"
	PrefixOperator      = "+COPS:"

	// SIM states reported in +CPIN:
	SimReady       = "READY"
	SimPin         = "SIM PIN"
	SimPuk         = "SIM PUK"
	PhoneSimPin    = "PH-SIM PIN"
	SimNotInserted = "NOT INSERTED"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg        = "+CMTI:"
	UrcMessageReport = "+CDSI:"
	UrcCall          = "RING"
	UrcReady         = "RDY"
	UrcSimReady      = "SMS Ready"
	UrcCallReady     = "Call Ready"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+CSQ: ...)
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}
