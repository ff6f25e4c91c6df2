package network

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command is a single AT command issued during bring-up. A zero Timeout
// uses the channel default.
type Command struct {
	Text    string
	Timeout time.Duration
}

func cmd(text string, timeout time.Duration) Command {
	return Command{Text: text, Timeout: timeout}
}

// UnsolicitedKind tells what a model specific unsolicited line announced.
type UnsolicitedKind int

const (
	UnsolicitedNone UnsolicitedKind = iota
	UnsolicitedDeactivated
	UnsolicitedActivated
	UnsolicitedTime
)

// Unsolicited is the decoded meaning of an unsolicited line.
type Unsolicited struct {
	Kind UnsolicitedKind
	// Time is set for UnsolicitedTime.
	Time time.Time
}

// CommandSet holds everything that differs between modem families. The
// bring-up sequence itself is shared by all of them.
type CommandSet interface {
	// Model names the modem family.
	Model() Model
	// ConfigureAccessPoint writes the APN while the radio is off.
	ConfigureAccessPoint(ap AccessPoint) Command
	// ConfigureBearer writes the data bearer parameters.
	ConfigureBearer(ap AccessPoint) []Command
	// BearerRequired reports whether a bearer failure restarts the bring-up.
	// Otherwise bearer configuration is best effort.
	BearerRequired() bool
	// Activate brings the data connection up.
	Activate(autoReconnect bool) []Command
	// Reactivate is the single command issued after an unsolicited
	// deactivation when auto-reconnect is enabled.
	Reactivate() Command
	// Deactivate tears the data connection down.
	Deactivate() Command
	// DisconnectAlways reports whether Disconnect clears the connected state
	// even if the deactivation command failed.
	DisconnectAlways() bool
	// IPQuery returns the command reporting the address and its response prefix.
	IPQuery() (Command, string)
	// ParseIPAddress extracts the address from the IPQuery response line.
	ParseIPAddress(line string) string
	// ParseUnsolicited decodes model specific unsolicited lines.
	ParseUnsolicited(line string) Unsolicited
	// URCPrefixes lists the unsolicited line prefixes the AT channel must
	// route to subscribers even while a command is outstanding.
	URCPrefixes() []string
	// Shutdown is issued when the Network is closed.
	Shutdown() []Command
}

// Model identifies a supported modem family.
type Model int

const (
	ModelSIM7080 Model = iota + 1
	ModelSIM800
)

func (m Model) String() string {
	switch m {
	case ModelSIM7080:
		return "sim7080"
	case ModelSIM800:
		return "sim800"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// CommandSet returns the command set of the model, nil if unknown.
func (m Model) CommandSet() CommandSet {
	switch m {
	case ModelSIM7080:
		return SIM7080{}
	case ModelSIM800:
		return SIM800{}
	default:
		return nil
	}
}

// ModelByName returns the command set for "sim7080" or "sim800".
func ModelByName(name string) (CommandSet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sim7080", "sim7080g":
		return SIM7080{}, nil
	case "sim800", "sim800l", "sim800c":
		return SIM800{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

// SIM7080 drives SIMCom SIM7080 LTE-M/NB-IoT modems through AT+CNACT.
type SIM7080 struct{}

const (
	sim7080PDP     = "+APP PDP:"
	sim7080Time    = "*PSUTTZ:"
	sim7080Context = "+CNACT:"
)

func (SIM7080) Model() Model { return ModelSIM7080 }

func (SIM7080) ConfigureAccessPoint(ap AccessPoint) Command {
	return cmd(fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, ap.Name), 0)
}

func (SIM7080) ConfigureBearer(ap AccessPoint) []Command {
	var b strings.Builder
	fmt.Fprintf(&b, `AT+CNCFG=0,1,"%s"`, ap.Name)
	if ap.User != "" {
		fmt.Fprintf(&b, `,"%s"`, ap.User)
	}
	if ap.Password != "" {
		fmt.Fprintf(&b, `,"%s"`, ap.Password)
	}
	return []Command{cmd(b.String(), 0)}
}

func (SIM7080) BearerRequired() bool { return true }

func (SIM7080) Activate(autoReconnect bool) []Command {
	if autoReconnect {
		return []Command{cmd("AT+CNACT=0,2", 30*time.Second)}
	}
	return []Command{cmd("AT+CNACT=0,1", 30*time.Second)}
}

func (SIM7080) Reactivate() Command { return cmd("AT+CNACT=0,1", 30*time.Second) }

func (SIM7080) Deactivate() Command { return cmd("AT+CNACT=0,0", 30*time.Second) }

func (SIM7080) DisconnectAlways() bool { return false }

func (SIM7080) IPQuery() (Command, string) { return cmd("AT+CNACT?", 0), sim7080Context }

// ParseIPAddress reads context 0 of +CNACT: 0,1,"10.0.0.5".
func (SIM7080) ParseIPAddress(line string) string {
	return quotedField(line, sim7080Context, 2)
}

func (SIM7080) ParseUnsolicited(line string) Unsolicited {
	switch {
	case strings.HasPrefix(line, sim7080PDP):
		// +APP PDP: 0,ACTIVE or +APP PDP: 0,DEACTIVE
		ctx, status, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, sim7080PDP)), ",")
		if !ok || strings.TrimSpace(ctx) != "0" {
			return Unsolicited{}
		}
		switch status = strings.TrimSpace(status); {
		case status == "DEACTIVE":
			return Unsolicited{Kind: UnsolicitedDeactivated}
		case status != "":
			return Unsolicited{Kind: UnsolicitedActivated}
		}
	case strings.HasPrefix(line, sim7080Time):
		if t, err := parseNetworkTime(strings.TrimPrefix(line, sim7080Time)); err == nil {
			return Unsolicited{Kind: UnsolicitedTime, Time: t}
		}
	}
	return Unsolicited{}
}

func (SIM7080) URCPrefixes() []string { return []string{sim7080PDP, sim7080Time} }

func (SIM7080) Shutdown() []Command { return []Command{cmd("AT+CREBOOT", 0)} }

// parseNetworkTime decodes the body of *PSUTTZ: 24/05/13,10:12:30","+8",0.
// The time is UTC and the zone is given in quarters of an hour.
func parseNetworkTime(body string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(body), ",")
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("%w: network time %q", ErrMalformedResponse, body)
	}
	stamp := strings.Trim(parts[0]+","+parts[1], `"`)
	t, err := time.Parse("06/01/02,15:04:05", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: network time %q: %w", ErrMalformedResponse, body, err)
	}
	quarters, err := strconv.Atoi(strings.Trim(parts[2], `"`))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time zone %q: %w", ErrMalformedResponse, body, err)
	}
	offset := quarters * 15 * 60
	return t.In(time.FixedZone("", offset)), nil
}

// SIM800 drives SIMCom SIM800 GSM/GPRS modems through the AT+SAPBR bearer.
type SIM800 struct{}

const (
	sim800Bearer      = "+SAPBR:"
	sim800BearerEvent = "+SAPBR 1:"
	sim800BearerColon = "+SAPBR: 1:"
)

func (SIM800) Model() Model { return ModelSIM800 }

func (SIM800) ConfigureAccessPoint(ap AccessPoint) Command {
	return cmd(fmt.Sprintf(`AT+CSTT="%s","%s","%s"`, ap.Name, ap.User, ap.Password), 0)
}

func (SIM800) ConfigureBearer(ap AccessPoint) []Command {
	cmds := []Command{
		cmd(`AT+SAPBR=3,1,"Contype","GPRS"`, 0),
		cmd(fmt.Sprintf(`AT+SAPBR=3,1,"APN","%s"`, ap.Name), 0),
	}
	if ap.User != "" {
		cmds = append(cmds, cmd(fmt.Sprintf(`AT+SAPBR=3,1,"USER","%s"`, ap.User), 0))
	}
	if ap.Password != "" {
		cmds = append(cmds, cmd(fmt.Sprintf(`AT+SAPBR=3,1,"PWD","%s"`, ap.Password), 0))
	}
	return cmds
}

func (SIM800) BearerRequired() bool { return false }

func (SIM800) Activate(bool) []Command {
	return []Command{
		cmd("AT+CIPSHUT", 65*time.Second),
		cmd("AT+CIPMUX=1;+CIPQSEND=1", 0),
		cmd("AT+CIICR", 85*time.Second),
		cmd("AT+SAPBR=1,1", 85*time.Second),
	}
}

func (SIM800) Reactivate() Command { return cmd("AT+SAPBR=1,1", 85*time.Second) }

func (SIM800) Deactivate() Command { return cmd("AT+SAPBR=0,1", 65*time.Second) }

func (SIM800) DisconnectAlways() bool { return true }

func (SIM800) IPQuery() (Command, string) { return cmd("AT+SAPBR=2,1", 0), sim800Bearer }

// ParseIPAddress reads bearer 1 of +SAPBR: 1,1,"10.0.0.5".
func (SIM800) ParseIPAddress(line string) string {
	return quotedField(line, sim800Bearer, 2)
}

func (SIM800) ParseUnsolicited(line string) Unsolicited {
	if (strings.HasPrefix(line, sim800BearerEvent) || strings.HasPrefix(line, sim800BearerColon)) &&
		strings.Contains(line, "DEACT") {
		return Unsolicited{Kind: UnsolicitedDeactivated}
	}
	return Unsolicited{}
}

func (SIM800) URCPrefixes() []string { return []string{sim800BearerEvent, sim800BearerColon} }

func (SIM800) Shutdown() []Command { return nil }

// quotedField returns field i of a comma separated response after prefix,
// without quotes.
func quotedField(line, prefix string, i int) string {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return ""
	}
	fields := strings.Split(strings.TrimSpace(rest), ",")
	if i >= len(fields) {
		return ""
	}
	return unquote(fields[i])
}
