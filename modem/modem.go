package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"i4.energy/across/cellnet/at"
)

// maxLineLength bounds a single response line. Operator scans are the
// longest responses a modem produces and stay well below this.
const maxLineLength = 16 * 1024

// Modem represents a cellular modem that communicates via AT commands.
// It provides thread-safe access to the command channel through a
// centralized event loop that handles all transport I/O.
type Modem struct {
	// transport provides the physical connection to the modem (serial, WebSocket, etc.)
	transport Transport
	// scanner tokenizes everything read from transport, first by init and then by Loop
	scanner *bufio.Scanner
	// classifier separates final results, data and URCs
	classifier *at.Classifier
	// atTimeout is the default timeout for AT command responses
	atTimeout time.Duration
	// lateWindow bounds the wait for the result of a timed out command
	lateWindow time.Duration
	logger     *slog.Logger

	mu sync.Mutex
	// closed indicates if the modem has been shut down
	closed bool
	// loopRunning indicates if the Loop is currently running
	loopRunning bool

	// urcChan queues Unsolicited Result Codes for the dispatcher
	urcChan chan string
	// commands hands AT command requests to the Loop; unbuffered so only
	// one command is ever in flight
	commands  chan *commandRequest
	listeners urcListeners

	// done is closed by Close and stops the Loop and the dispatcher
	done chan struct{}
}

// commandRequest represents an AT command request to be executed by the Loop.
type commandRequest struct {
	// cmd is the AT command string to send to the modem
	cmd string
	// respChan receives the command response from the Loop
	respChan chan commandResponse
	// ctx provides timeout and cancellation control for the command
	ctx context.Context
}

// commandResponse contains the result of an AT command execution.
type commandResponse struct {
	response Response
	err      error
}

// Response is the outcome of a single AT command.
type Response struct {
	// Intermediates holds the lines received between the command and its
	// final result code, in arrival order.
	Intermediates []string
	// Final is the final result code line (OK, ERROR, +CME ERROR: ...).
	// It is empty when the command did not complete.
	Final string
}

// Success reports whether the command ended with OK.
func (r Response) Success() bool {
	return at.IsSuccess(r.Final)
}

// Line returns the first intermediate line starting with prefix, or an
// empty string when there is none.
func (r Response) Line(prefix string) string {
	for _, l := range r.Intermediates {
		if strings.HasPrefix(l, prefix) {
			return l
		}
	}
	return ""
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and initializes the modem
// hardware (attention, echo off, verbose errors).
//
// Returns an error if the transport connection or modem initialization
// fails. Loop must be started before issuing commands.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport:  transport,
		classifier: at.NewClassifier(config.urcPrefixes...),
		atTimeout:  config.atTimeout,
		lateWindow: config.lateWindow,
		logger:     config.logger,
		urcChan:    make(chan string, config.urcBuffer),
		commands:   make(chan *commandRequest),
		done:       make(chan struct{}),
	}
	m.scanner = bufio.NewScanner(transport)
	m.scanner.Buffer(make([]byte, 0, 1024), maxLineLength)
	m.scanner.Split(at.Splitter)

	initCtx, cancel := context.WithTimeout(ctx, config.initTimeout)
	defer cancel()

	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	go m.dispatch()

	return m, nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be called exactly once after New() and before any other modem operations.
// The Loop coordinates all communication with the modem hardware:
//
// 1. Processes command requests from Exec() calls, one at a time
// 2. Writes AT commands to the transport
// 3. Reads and classifies lines from the transport
// 4. Queues URCs and unsolicited lines for the subscribers
// 5. Returns command responses to waiting callers, or a timeout error
//
// The Loop runs until the provided context is cancelled, the modem is
// closed or the transport fails. It's the ONLY goroutine that reads from
// the transport, preventing race conditions and ensuring URCs are never lost.
//
// Usage:
//
//	modem, err := New(ctx, config)
//	if err != nil { return err }
//
//	// Start the loop (typically in a goroutine)
//	go modem.Loop(ctx)
//
//	// Now commands will work
//	err = modem.SendCommand(ctx, "AT+CFUN=1", 0)
func (m *Modem) Loop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.loopRunning {
		m.mu.Unlock()
		return ErrLoopRunning
	}
	m.loopRunning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loopRunning = false
		m.mu.Unlock()
	}()

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for m.scanner.Scan() {
			token := strings.TrimSpace(m.scanner.Text())
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
		}
		if err := m.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = ErrLineTooLong
			}
			scanErrs <- err
		}
	}()

	// Current command being processed
	var current *commandRequest
	var lines []string

	// After a timeout the modem may still answer the expired command. Until
	// that late final result arrives or the window closes, no new command is
	// written, so the late result cannot be taken for the next answer.
	var late string
	var lateTimer *time.Timer
	var lateExpired <-chan time.Time
	endLate := func() {
		if lateTimer != nil {
			lateTimer.Stop()
		}
		late, lateTimer, lateExpired = "", nil, nil
	}
	defer endLate()

	finish := func(resp commandResponse) {
		current.respChan <- resp
		current = nil
		lines = nil
	}

	for {
		// Only accept a new command when none is in flight, and only watch
		// the deadline of the one that is.
		var commands chan *commandRequest
		var expired <-chan struct{}
		if current == nil && late == "" {
			commands = m.commands
		} else if current != nil {
			expired = current.ctx.Done()
		}

		select {
		case <-ctx.Done():
			if current != nil {
				finish(commandResponse{err: ctx.Err()})
			}
			return ctx.Err()

		case <-m.done:
			if current != nil {
				finish(commandResponse{err: ErrAlreadyClosed})
			}
			return nil

		case req := <-commands:
			m.logger.Debug("AT command", "cmd", req.cmd)
			wire := strings.TrimSpace(req.cmd) + "\r"
			if _, err := m.transport.Write([]byte(wire)); err != nil {
				req.respChan <- commandResponse{err: fmt.Errorf("write command %q: %w", req.cmd, err)}
				continue
			}
			current = req

		case <-expired:
			m.logger.Debug("AT command timed out", "cmd", current.cmd, "lines", len(lines))
			late = current.cmd
			lateTimer = time.NewTimer(m.lateWindow)
			lateExpired = lateTimer.C
			finish(commandResponse{
				response: Response{Intermediates: lines},
				err:      fmt.Errorf("%w: %q: %w", ErrCommandTimeout, current.cmd, current.ctx.Err()),
			})

		case <-lateExpired:
			m.logger.Debug("no late result for timed out command", "cmd", late)
			endLate()

		case token, ok := <-tokens:
			if !ok {
				// Token channel closed - scanner stopped. Prefer its error over EOF.
				select {
				case err := <-scanErrs:
					if current != nil {
						finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
					}
					return fmt.Errorf("scanner error: %w", err)
				default:
				}
				if current != nil {
					finish(commandResponse{err: io.EOF})
				}
				return io.EOF
			}

			switch m.classifier.Classify(token) {
			case at.TypeURC:
				// URCs can arrive at any time, even during command execution
				m.publish(token)

			case at.TypeFinal:
				if late != "" {
					m.logger.Debug("discarding late result", "cmd", late, "final", token)
					endLate()
					continue
				}
				if current == nil {
					m.logger.Debug("orphaned final result", "line", token)
					continue
				}
				resp := Response{Intermediates: lines, Final: token}
				m.logger.Debug("AT response", "cmd", current.cmd, "final", token, "lines", len(lines))
				if at.IsSuccess(token) {
					finish(commandResponse{response: resp})
				} else {
					finish(commandResponse{response: resp, err: &Error{Command: current.cmd, Result: token}})
				}

			case at.TypeData:
				if late != "" {
					m.logger.Debug("discarding late line", "cmd", late, "line", token)
				} else if current != nil {
					lines = append(lines, token)
				} else {
					// Not a response to anything outstanding: unsolicited.
					m.publish(token)
				}
			}

		case err := <-scanErrs:
			if current != nil {
				finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
			}
			return fmt.Errorf("scanner error: %w", err)
		}
	}
}

// Close shuts down the modem and releases all resources.
// It stops the event loop and the URC dispatcher, closes the transport
// connection, and marks the modem as closed. After calling Close(), the
// modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)

	if m.transport != nil {
		return m.transport.Close()
	}

	return nil
}

func (m *Modem) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOkDirect(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	return nil
}

// Exec sends an AT command to the modem and waits for its final result
// code. A timeout of zero uses the configured default. The Loop must be
// running.
//
// A final result other than OK is reported as *Error together with the
// lines received so far.
func (m *Modem) Exec(ctx context.Context, cmd string, timeout time.Duration) (Response, error) {
	if m.isClosed() {
		return Response{}, ErrAlreadyClosed
	}

	if m.transport == nil {
		return Response{}, ErrNotInitialized
	}

	if timeout <= 0 {
		timeout = m.atTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &commandRequest{
		cmd:      cmd,
		respChan: make(chan commandResponse, 1), // Buffered to prevent blocking the Loop
		ctx:      ctx,
	}

	// Send request to Loop
	select {
	case m.commands <- req:
	case <-m.done:
		return Response{}, ErrAlreadyClosed
	case <-ctx.Done():
		return Response{}, fmt.Errorf("command %q cancelled before sending: %w", cmd, ctx.Err())
	}

	// Wait for response from Loop
	select {
	case resp := <-req.respChan:
		return resp.response, resp.err
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %q: %w", ErrCommandTimeout, cmd, ctx.Err())
	}
}

// SendCommand sends cmd and reports whether it ended with OK. No
// intermediate lines are expected.
func (m *Modem) SendCommand(ctx context.Context, cmd string, timeout time.Duration) error {
	_, err := m.Exec(ctx, cmd, timeout)
	return err
}

// SendCommandReadSingleLine sends cmd and returns the intermediate line
// starting with prefix. The line is empty when the command succeeded
// without producing one.
func (m *Modem) SendCommandReadSingleLine(ctx context.Context, cmd, prefix string, timeout time.Duration) (string, error) {
	resp, err := m.Exec(ctx, cmd, timeout)
	if err != nil {
		return "", err
	}
	return resp.Line(prefix), nil
}

// execDirect executes an AT command directly on the transport without
// using the channel mechanism and handles the complete request-response
// cycle including timeout management. It is used during modem initialization
// when not yet accepting commands.
//
// WARNING: This method should only be used during initialization.
// Use Exec() for normal operations.
func (m *Modem) execDirect(ctx context.Context, cmd string) (string, error) {
	if m.isClosed() {
		return "", ErrAlreadyClosed
	}
	if m.transport == nil {
		return "", ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && m.atTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.atTimeout)
		defer cancel()
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	var lines []string

	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		default:
		}
		if !m.scanner.Scan() {
			if err := m.scanner.Err(); err != nil {
				return strings.Join(lines, "\n"), fmt.Errorf("read error: %w", err)
			}
			return strings.Join(lines, "\n"), io.EOF
		}

		token := strings.TrimSpace(m.scanner.Text())
		if token == "" {
			continue
		}

		switch m.classifier.Classify(token) {
		case at.TypeFinal:
			lines = append(lines, token)

			response := strings.Join(lines, "\n")
			if at.IsSuccess(token) {
				return response, nil
			}
			return response, &Error{Command: cmd, Result: token}

		case at.TypeData:
			lines = append(lines, token)

		case at.TypeURC:
			// Nobody can be subscribed yet
			m.logger.Debug("URC during init", "line", token)
		}
	}
}

// expectOkDirect executes an AT command and validates that the response
// contains "OK". This is a convenience method for commands that should
// succeed with a simple OK response.
//
// Used during initialization for basic configuration commands.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	resp, err := m.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}
