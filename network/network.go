// Package network brings a cellular data connection up and keeps track of
// it. A Network drives the modem through SIM unlock, signal acquisition,
// operator selection and data context activation, using a CommandSet for
// everything that differs between modem families.
package network

//go:generate go tool mockgen -destination=mock_network.go -package=network . Channel,Device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"i4.energy/across/cellnet/at"
	"i4.energy/across/cellnet/modem"
)

// DefaultMaxRetry is the retry budget used by Reconnect when Connect was
// never called.
const DefaultMaxRetry = 10

// OperatorScanTimeout bounds AT+COPS=?, which searches all bands.
const OperatorScanTimeout = 5 * time.Minute

// Channel is the AT command channel a Network talks through.
// *modem.Modem implements it.
type Channel interface {
	SendCommand(ctx context.Context, cmd string, timeout time.Duration) error
	SendCommandReadSingleLine(ctx context.Context, cmd, prefix string, timeout time.Duration) (string, error)
	Subscribe(fn func(line string)) (cancel func())
}

// Device exposes the SIM and radio queries used during bring-up.
// *modem.Modem implements it.
type Device interface {
	SimStatus(ctx context.Context) (modem.SimStatus, error)
	EnterPIN(ctx context.Context, pin string) error
	SignalQuality(ctx context.Context) (modem.Signal, error)
}

// AccessPoint configures the packet data network. An empty Name leaves
// the APN stored in the modem untouched.
type AccessPoint struct {
	Name     string `json:"apn" yaml:"apn"`
	User     string `json:"user,omitempty" yaml:"user"`
	Password string `json:"-" yaml:"password"`
}

// PIN unlocks the SIM. An empty PIN is never submitted.
type PIN string

// Information is a snapshot of the network as reported by the modem.
type Information struct {
	Operator  string       `json:"operator"`
	Signal    modem.Signal `json:"signal"`
	IPAddress string       `json:"ip_address"`
	Status    State        `json:"status"`
}

// NetworkEvent is raised whenever the data connection goes up or down.
type NetworkEvent struct {
	Connected bool `json:"connected"`
}

// RetryPolicy sets the pauses between attempts of the bring-up steps.
type RetryPolicy struct {
	// SimPoll is the pause between SIM status queries.
	SimPoll time.Duration
	// SignalPoll is the pause between signal quality queries.
	SignalPoll time.Duration
	// IPPoll is the pause between IP address queries.
	IPPoll time.Duration
	// Restart is the pause before the whole sequence starts over.
	Restart time.Duration
}

// DefaultRetryPolicy returns the pauses SIMCom modems are comfortable with.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		SimPoll:    time.Second,
		SignalPoll: 1500 * time.Millisecond,
		IPPoll:     2 * time.Second,
		Restart:    time.Second,
	}
}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(n *Network) {
		n.retry = p
	}
}

// WithAutoReconnect enables reactivation after the network dropped the
// data context.
func WithAutoReconnect(on bool) Option {
	return func(n *Network) {
		n.autoReconnect = on
	}
}

// Network manages the data connection of one modem.
type Network struct {
	channel  Channel
	device   Device
	commands CommandSet
	retry    RetryPolicy
	logger   *slog.Logger

	// opMu serializes Connect, Disconnect, Reconnect, Close and reactivation.
	opMu sync.Mutex

	// mu guards the fields below. The unsolicited handler runs on the
	// channel's dispatcher while Connect runs on the caller.
	mu            sync.Mutex
	state         State
	autoReconnect bool
	// wanted is set by a successful Connect and cleared by Disconnect. Only
	// a wanted connection is reactivated.
	wanted   bool
	closed   bool
	pin      PIN
	ap       AccessPoint
	maxRetry int

	changes   listeners[NetworkEvent]
	dateTimes listeners[time.Time]

	reactivations singleflight.Group
	background    sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	unsubscribe   func()
}

// New returns a disconnected Network and subscribes to the channel's
// unsolicited lines. The channel should classify cs.URCPrefixes() as
// unsolicited.
func New(ch Channel, dev Device, cs CommandSet, opts ...Option) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		channel:  ch,
		device:   dev,
		commands: cs,
		retry:    DefaultRetryPolicy(),
		logger:   slog.New(slog.DiscardHandler),
		maxRetry: DefaultMaxRetry,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("model", cs.Model().String())
	n.changes.logger = n.logger
	n.dateTimes.logger = n.logger
	n.unsubscribe = ch.Subscribe(n.handleUnsolicited)
	return n
}

// State returns the current connection state.
func (n *Network) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsConnected reports whether the data connection is up.
func (n *Network) IsConnected() bool {
	return n.State() == Connected
}

// SetAutoReconnect toggles reactivation after unsolicited deactivation. It
// applies to the next activation command on models that distinguish it.
func (n *Network) SetAutoReconnect(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.autoReconnect = on
}

// AutoReconnect reports whether auto-reconnect is enabled.
func (n *Network) AutoReconnect() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.autoReconnect
}

// OnNetworkChange registers fn for connection changes. Listeners run on
// the goroutine that observed the change and must not block.
func (n *Network) OnNetworkChange(fn func(NetworkEvent)) (cancel func()) {
	return n.changes.add(fn)
}

// OnDateTime registers fn for the network time broadcast by the operator.
func (n *Network) OnDateTime(fn func(time.Time)) (cancel func()) {
	return n.dateTimes.add(fn)
}

// Connect brings the data connection up. The PIN is only submitted when
// the SIM asks for it, and a non-empty APN is written with the radio off.
// pin, ap and maxRetry are kept for Reconnect.
//
// All failing steps spend from one budget of maxRetry retries. A failure
// of operator selection, bearer configuration or activation starts the
// whole sequence over. When the budget runs out Connect returns an error
// wrapping ErrRetriesExhausted and the network is Disconnected.
func (n *Network) Connect(ctx context.Context, pin PIN, ap AccessPoint, maxRetry int) error {
	n.opMu.Lock()
	defer n.opMu.Unlock()
	return n.connect(ctx, pin, ap, maxRetry)
}

func (n *Network) connect(ctx context.Context, pin PIN, ap AccessPoint, maxRetry int) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.pin, n.ap, n.maxRetry = pin, ap, maxRetry
	if n.state == Connected {
		n.mu.Unlock()
		return nil
	}
	n.setStateLocked(Connecting)
	autoReconnect := n.autoReconnect
	n.mu.Unlock()

	n.logger.Info("connecting", "apn", ap.Name, "max_retry", maxRetry)

	ip, err := n.bringUp(ctx, pin, ap, &retryBudget{left: maxRetry}, autoReconnect)
	if err != nil {
		n.mu.Lock()
		n.setStateLocked(Disconnected)
		n.mu.Unlock()
		n.logger.Warn("connect failed", "error", err)
		return err
	}

	n.mu.Lock()
	n.wanted = true
	changed := n.setStateLocked(Connected)
	n.mu.Unlock()

	n.logger.Info("connected", "ip", ip)
	if changed {
		n.changes.emit(NetworkEvent{Connected: true})
	}
	return nil
}

// bringUp runs the connect steps until they all succeed, the budget is
// spent or ctx is done. It returns the assigned address.
func (n *Network) bringUp(ctx context.Context, pin PIN, ap AccessPoint, budget *retryBudget, autoReconnect bool) (string, error) {
	for attempt := 1; ; attempt++ {
		ip, err := n.attempt(ctx, pin, ap, budget, autoReconnect)
		if err == nil {
			return ip, nil
		}
		var restart *restartError
		if !errors.As(err, &restart) {
			return "", err
		}
		if !budget.spend() {
			return "", fmt.Errorf("%w: %w", ErrRetriesExhausted, restart.err)
		}
		n.logger.Info("restarting connect sequence", "attempt", attempt, "cause", restart.err, "retries_left", budget.left)
		if err := sleep(ctx, n.retry.Restart); err != nil {
			return "", err
		}
	}
}

// attempt runs the sequence once. Failures that start the sequence over
// come back as *restartError.
func (n *Network) attempt(ctx context.Context, pin PIN, ap AccessPoint, budget *retryBudget, autoReconnect bool) (string, error) {
	if ap.Name != "" {
		if err := n.reconfigureRadio(ctx, ap); err != nil {
			return "", err
		}
	}

	if err := n.waitSimReady(ctx, pin, budget); err != nil {
		return "", err
	}

	if err := n.waitSignal(ctx, budget); err != nil {
		return "", err
	}

	if err := n.channel.SendCommand(ctx, at.CmdOperatorAutomatic, 2*time.Minute); err != nil {
		return "", n.restartOrAbort(ctx, fmt.Errorf("select operator: %w", err))
	}

	for _, c := range n.commands.ConfigureBearer(ap) {
		if err := n.send(ctx, c); err != nil {
			if n.commands.BearerRequired() {
				return "", n.restartOrAbort(ctx, fmt.Errorf("configure bearer: %w", err))
			}
			n.logger.Warn("bearer configuration failed, continuing", "cmd", c.Text, "error", err)
		}
	}

	for _, c := range n.commands.Activate(autoReconnect) {
		if err := n.send(ctx, c); err != nil {
			return "", n.restartOrAbort(ctx, fmt.Errorf("activate: %w", err))
		}
	}

	return n.waitIPAddress(ctx, budget)
}

// reconfigureRadio writes the APN with the radio off. It is not retried.
func (n *Network) reconfigureRadio(ctx context.Context, ap AccessPoint) error {
	steps := []Command{
		cmd(at.CmdRadioOff, 10*time.Second),
		n.commands.ConfigureAccessPoint(ap),
		cmd(at.CmdRadioOn, 10*time.Second),
	}
	for _, c := range steps {
		if err := n.send(ctx, c); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrRadioReconfigure, err)
		}
	}
	return nil
}

func (n *Network) waitSimReady(ctx context.Context, pin PIN, budget *retryBudget) error {
	pinSent := false
	return n.poll(ctx, budget, n.retry.SimPoll, "SIM status", func(ctx context.Context) error {
		status, err := n.device.SimStatus(ctx)
		if err != nil {
			return err
		}
		if status == modem.SimReady {
			return nil
		}
		if status == modem.SimPinRequired && pin != "" && !pinSent {
			pinSent = true
			n.logger.Info("entering SIM PIN")
			if err := n.device.EnterPIN(ctx, string(pin)); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: %s", ErrSimNotReady, status)
	})
}

func (n *Network) waitSignal(ctx context.Context, budget *retryBudget) error {
	return n.poll(ctx, budget, n.retry.SignalPoll, "signal quality", func(ctx context.Context) error {
		signal, err := n.device.SignalQuality(ctx)
		if err != nil {
			return err
		}
		if !signal.Known() {
			return ErrNoSignal
		}
		n.logger.Debug("signal acquired", "rssi", signal.RSSI, "dbm", signal.DBm())
		return nil
	})
}

func (n *Network) waitIPAddress(ctx context.Context, budget *retryBudget) (string, error) {
	var ip string
	err := n.poll(ctx, budget, n.retry.IPPoll, "IP address", func(ctx context.Context) error {
		var err error
		ip, err = n.queryIPAddress(ctx)
		if err != nil {
			return err
		}
		if !IsValidIPAddress(ip) {
			return fmt.Errorf("%w: %q", ErrNoIPAddress, ip)
		}
		return nil
	})
	return ip, err
}

func (n *Network) queryIPAddress(ctx context.Context) (string, error) {
	query, prefix := n.commands.IPQuery()
	line, err := n.channel.SendCommandReadSingleLine(ctx, query.Text, prefix, query.Timeout)
	if err != nil {
		return "", err
	}
	return n.commands.ParseIPAddress(line), nil
}

// poll repeats check until it succeeds, spending one retry per failure.
func (n *Network) poll(ctx context.Context, budget *retryBudget, backoff time.Duration, step string, check func(context.Context) error) error {
	for {
		err := check(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !budget.spend() {
			return fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, step, err)
		}
		n.logger.Debug("retrying", "step", step, "error", err, "retries_left", budget.left)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (n *Network) restartOrAbort(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &restartError{err: err}
}

func (n *Network) send(ctx context.Context, c Command) error {
	return n.channel.SendCommand(ctx, c.Text, c.Timeout)
}

// Disconnect tears the data connection down. On SIM800 the state is
// cleared even if the modem rejected the command, on SIM7080 only when it
// accepted it.
func (n *Network) Disconnect(ctx context.Context) error {
	n.opMu.Lock()
	defer n.opMu.Unlock()
	return n.disconnect(ctx)
}

func (n *Network) disconnect(ctx context.Context) error {
	n.mu.Lock()
	wanted := n.wanted
	n.wanted = false
	n.mu.Unlock()

	err := n.send(ctx, n.commands.Deactivate())
	if err != nil && !n.commands.DisconnectAlways() {
		n.mu.Lock()
		n.wanted = wanted
		n.mu.Unlock()
		return fmt.Errorf("deactivate: %w", err)
	}

	n.mu.Lock()
	changed := n.state == Connected && n.setStateLocked(Disconnected)
	n.mu.Unlock()
	if changed {
		n.changes.emit(NetworkEvent{Connected: false})
	}
	n.logger.Info("disconnected", "error", err)

	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

// Reconnect disconnects and connects again with the PIN, access point and
// retry budget of the last Connect. A failed disconnect is ignored unless
// it left the connection up, in which case its error is returned.
func (n *Network) Reconnect(ctx context.Context) error {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	if err := n.disconnect(ctx); err != nil {
		// A refused deactivation leaves the connection up, and connect
		// would return at once without a bring-up.
		if n.State() == Connected {
			return fmt.Errorf("reconnect: %w", err)
		}
		n.logger.Debug("disconnect before reconnect failed", "error", err)
	}

	// The connection stays wanted while it is down, so the watchdog keeps
	// trying after a failed reconnect.
	n.mu.Lock()
	n.wanted = true
	pin, ap, maxRetry := n.pin, n.ap, n.maxRetry
	n.mu.Unlock()

	return n.connect(ctx, pin, ap, maxRetry)
}

// Information queries operator, signal and address. The status is
// Connected only while the connection is up and the modem reports a valid
// address. Query failures are joined and the partial snapshot returned.
func (n *Network) Information(ctx context.Context) (Information, error) {
	var info Information
	var errs []error

	line, err := n.channel.SendCommandReadSingleLine(ctx, at.CmdOperatorQuery, at.PrefixOperator, 0)
	if err != nil {
		errs = append(errs, fmt.Errorf("query operator: %w", err))
	}
	info.Operator = parseCurrentOperator(line)

	info.Signal, err = n.device.SignalQuality(ctx)
	if err != nil {
		info.Signal = modem.Signal{RSSI: modem.RSSIUnknown, BER: modem.RSSIUnknown}
		errs = append(errs, err)
	}

	info.IPAddress, err = n.queryIPAddress(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("query IP address: %w", err))
	}

	switch state := n.State(); {
	case state == Connected && IsValidIPAddress(info.IPAddress):
		info.Status = Connected
	case state == Connecting:
		info.Status = Connecting
	default:
		info.Status = Disconnected
	}

	return info, errors.Join(errs...)
}

// Operators scans for operators, which can take minutes. A failed or
// unparseable scan returns a nil slice and an error. A scan that found
// nothing returns an empty slice.
func (n *Network) Operators(ctx context.Context) ([]Operator, error) {
	line, err := n.channel.SendCommandReadSingleLine(ctx, at.CmdOperatorScan, at.PrefixOperator, OperatorScanTimeout)
	if err != nil {
		return nil, fmt.Errorf("scan operators: %w", err)
	}
	return ParseOperators(line)
}

// Close stops listening to the modem, disconnects and issues the model's
// shutdown commands. The Network cannot be used afterwards.
func (n *Network) Close(ctx context.Context) error {
	if err := n.Detach(); err != nil {
		return err
	}

	n.opMu.Lock()
	defer n.opMu.Unlock()

	var errs []error
	if err := n.disconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, c := range n.commands.Shutdown() {
		if err := n.send(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", c.Text, err))
		}
	}
	return errors.Join(errs...)
}

// Detach stops listening to the modem and waits for a running
// reactivation, leaving the data connection and the modem as they are.
// The Network cannot be used afterwards.
func (n *Network) Detach() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.unsubscribe()
	n.background.Wait()
	return nil
}

// setStateLocked moves to next and reports whether the state changed.
// Invalid transitions are refused. n.mu must be held.
func (n *Network) setStateLocked(next State) bool {
	prev := n.state
	if prev == next {
		return false
	}
	if !prev.canTransition(next) {
		n.logger.Error("invalid state transition refused", "from", prev, "to", next)
		return false
	}
	n.state = next
	n.logger.Info("network state changed", "from", prev, "to", next)
	return true
}

// retryBudget is shared by all steps of one Connect call.
type retryBudget struct {
	left int
}

func (b *retryBudget) spend() bool {
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

// restartError asks bringUp to start the sequence over.
type restartError struct {
	err error
}

func (e *restartError) Error() string { return e.err.Error() }

func (e *restartError) Unwrap() error { return e.err }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
