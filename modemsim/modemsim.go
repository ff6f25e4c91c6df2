// Package modemsim is an in-memory SIMCom modem. It answers the AT
// commands of the SIM7080 and SIM800 families closely enough to run a
// complete network bring-up without hardware.
package modemsim

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Model selects the command dialect of the simulated modem.
type Model string

const (
	SIM7080 Model = "sim7080"
	SIM800  Model = "sim800"
)

// DefaultScan is the AT+COPS=? answer used when Config.Scan is empty.
const DefaultScan = `+COPS: (1,"F-Bouygues Telecom","BYTEL","20820",9),(1,"Orange F","Orange","20801",7),,(0,1,2,3,4),(0,1,2)`

// Config describes the simulated modem and its network.
type Config struct {
	Model Model
	// PIN locks the SIM until it is entered. Empty means unlocked.
	PIN string
	// NoSIM reports the SIM as not inserted.
	NoSIM bool
	// Operator is the registered operator name. Defaults to "Orange F".
	Operator string
	// RSSI is reported once the signal is acquired. Defaults to 20.
	RSSI int
	// SignalAfter is the number of AT+CSQ queries answering 99 first.
	SignalAfter int
	// IPAddress is assigned on activation. Defaults to 10.64.0.17.
	IPAddress string
	// IPAfter is the number of address queries after activation that still
	// report 0.0.0.0.
	IPAfter int
	// Scan answers AT+COPS=?. Defaults to DefaultScan.
	Scan   string
	Logger *slog.Logger
}

// Modem implements io.ReadWriteCloser like a serial port to a modem.
type Modem struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	out    []byte
	in     []byte
	closed bool

	echo      bool
	radioOn   bool
	locked    bool
	active    bool
	signalQs  int
	ipQs      int
	failures  map[string]int
	history   []string
	apn       string
	bearerAPN string
}

// New returns a powered modem with echo enabled.
func New(config Config) *Modem {
	if config.Model == "" {
		config.Model = SIM7080
	}
	if config.Operator == "" {
		config.Operator = "Orange F"
	}
	if config.RSSI == 0 {
		config.RSSI = 20
	}
	if config.IPAddress == "" {
		config.IPAddress = "10.64.0.17"
	}
	if config.Scan == "" {
		config.Scan = DefaultScan
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Modem{
		config:   config,
		logger:   logger.With("component", "modemsim", "model", string(config.Model)),
		echo:     true,
		radioOn:  true,
		locked:   config.PIN != "",
		failures: make(map[string]int),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Read blocks until the modem has output or is closed.
func (m *Modem) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.out) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.out) == 0 {
		return 0, io.EOF
	}
	n := copy(p, m.out)
	m.out = m.out[n:]
	return n, nil
}

// Write feeds command bytes. Every command terminated by CR is answered.
func (m *Modem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.in = append(m.in, p...)
	for {
		i := strings.IndexAny(string(m.in), "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(m.in[:i]))
		m.in = m.in[i+1:]
		if line == "" {
			continue
		}
		m.execute(line)
	}
	return len(p), nil
}

// Close makes pending and future reads return io.EOF.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

// Fail makes the next n executions of cmd answer ERROR.
func (m *Modem) Fail(cmd string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[cmd] += n
}

// Emit sends an unsolicited line.
func (m *Modem) Emit(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit(line)
}

// DropConnection deactivates the data context as the network would and
// announces it with the model's unsolicited line.
func (m *Modem) DropConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	switch m.config.Model {
	case SIM800:
		m.emit("+SAPBR 1: DEACT")
	default:
		m.emit("+APP PDP: 0,DEACTIVE")
	}
}

// Active reports whether the data context is up.
func (m *Modem) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// History returns the commands received so far.
func (m *Modem) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// emit queues a line. m.mu must be held.
func (m *Modem) emit(line string) {
	m.out = append(m.out, line+"\r\n"...)
	m.cond.Broadcast()
}

// execute answers one command. m.mu must be held.
func (m *Modem) execute(cmd string) {
	m.history = append(m.history, cmd)
	m.logger.Debug("command", "cmd", cmd)

	if m.echo {
		m.emit(cmd)
	}

	if m.failures[cmd] > 0 {
		m.failures[cmd]--
		m.emit("ERROR")
		return
	}

	lines, final, after := m.answer(cmd)
	for _, l := range lines {
		m.emit(l)
	}
	m.emit(final)
	for _, l := range after {
		m.emit(l)
	}
}

// answer returns the intermediate lines, the final result and the
// unsolicited lines following it.
func (m *Modem) answer(cmd string) (lines []string, final string, after []string) {
	upper := strings.ToUpper(cmd)
	switch {
	case upper == "AT", upper == "AT+CMEE=2":
		return nil, "OK", nil
	case upper == "ATE0":
		m.echo = false
		return nil, "OK", nil
	case upper == "ATE1":
		m.echo = true
		return nil, "OK", nil

	case upper == "AT+CPIN?":
		switch {
		case m.config.NoSIM:
			return nil, "+CME ERROR: SIM not inserted", nil
		case m.locked:
			return []string{"+CPIN: SIM PIN"}, "OK", nil
		default:
			return []string{"+CPIN: READY"}, "OK", nil
		}
	case strings.HasPrefix(upper, "AT+CPIN="):
		pin := strings.Trim(cmd[len("AT+CPIN="):], `"`)
		if !m.locked {
			return nil, "+CME ERROR: operation not allowed", nil
		}
		if pin != m.config.PIN {
			return nil, "+CME ERROR: incorrect password", nil
		}
		m.locked = false
		return nil, "OK", nil

	case upper == "AT+CSQ":
		m.signalQs++
		if !m.radioOn || m.locked || m.signalQs <= m.config.SignalAfter {
			return []string{"+CSQ: 99,99"}, "OK", nil
		}
		return []string{fmt.Sprintf("+CSQ: %d,0", m.config.RSSI)}, "OK", nil

	case upper == "AT+CFUN=0":
		m.radioOn = false
		m.active = false
		return nil, "OK", nil
	case upper == "AT+CFUN=1":
		m.radioOn = true
		return nil, "OK", nil

	case upper == "AT+COPS?":
		if !m.radioOn {
			return []string{"+COPS: 0"}, "OK", nil
		}
		return []string{fmt.Sprintf(`+COPS: 0,0,"%s",%d`, m.config.Operator, m.systemMode())}, "OK", nil
	case upper == "AT+COPS=0":
		if !m.radioOn {
			return nil, "+CME ERROR: no network service", nil
		}
		return nil, "OK", nil
	case upper == "AT+COPS=?":
		return []string{m.config.Scan}, "OK", nil

	case upper == "AT+CREBOOT" && m.config.Model == SIM7080:
		m.active = false
		m.locked = m.config.PIN != ""
		return nil, "OK", []string{"RDY"}
	}

	switch m.config.Model {
	case SIM800:
		return m.answerSIM800(cmd, upper)
	default:
		return m.answerSIM7080(cmd, upper)
	}
}

func (m *Modem) answerSIM7080(cmd, upper string) ([]string, string, []string) {
	switch {
	case strings.HasPrefix(upper, "AT+CGDCONT="):
		if m.radioOn {
			return nil, "ERROR", nil
		}
		m.apn = lastQuoted(cmd)
		return nil, "OK", nil
	case strings.HasPrefix(upper, "AT+CNCFG="):
		return nil, "OK", nil
	case upper == "AT+CNACT=0,1", upper == "AT+CNACT=0,2":
		if !m.radioOn {
			return nil, "ERROR", nil
		}
		m.active = true
		m.ipQs = 0
		return nil, "OK", []string{"+APP PDP: 0,ACTIVE"}
	case upper == "AT+CNACT=0,0":
		if !m.active {
			return nil, "OK", nil
		}
		m.active = false
		return nil, "OK", []string{"+APP PDP: 0,DEACTIVE"}
	case upper == "AT+CNACT?":
		return []string{
			fmt.Sprintf(`+CNACT: 0,%d,"%s"`, boolInt(m.active), m.address()),
			`+CNACT: 1,0,"0.0.0.0"`,
		}, "OK", nil
	}
	return nil, "ERROR", nil
}

func (m *Modem) answerSIM800(cmd, upper string) ([]string, string, []string) {
	switch {
	case strings.HasPrefix(upper, "AT+CSTT="):
		m.apn = firstQuoted(cmd)
		return nil, "OK", nil
	case strings.HasPrefix(upper, `AT+SAPBR=3,1,"APN",`):
		m.bearerAPN = lastQuoted(cmd)
		return nil, "OK", nil
	case strings.HasPrefix(upper, "AT+SAPBR=3,1,"):
		return nil, "OK", nil
	case upper == "AT+CIPSHUT":
		return nil, "SHUT OK", nil
	case upper == "AT+CIPMUX=1;+CIPQSEND=1", upper == "AT+CIICR":
		return nil, "OK", nil
	case upper == "AT+SAPBR=1,1":
		if !m.radioOn || m.active {
			return nil, "ERROR", nil
		}
		m.active = true
		m.ipQs = 0
		return nil, "OK", nil
	case upper == "AT+SAPBR=0,1":
		if !m.active {
			return nil, "ERROR", nil
		}
		m.active = false
		return nil, "OK", nil
	case upper == "AT+SAPBR=2,1":
		status := 3
		if m.active {
			status = 1
		}
		return []string{fmt.Sprintf(`+SAPBR: 1,%d,"%s"`, status, m.address())}, "OK", nil
	}
	return nil, "ERROR", nil
}

// address is the current data context address. m.mu must be held.
func (m *Modem) address() string {
	if !m.active {
		return "0.0.0.0"
	}
	m.ipQs++
	if m.ipQs <= m.config.IPAfter {
		return "0.0.0.0"
	}
	return m.config.IPAddress
}

func (m *Modem) systemMode() int {
	if m.config.Model == SIM800 {
		return 0
	}
	return 7
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstQuoted(s string) string {
	parts := strings.Split(s, `"`)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func lastQuoted(s string) string {
	parts := strings.Split(s, `"`)
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
