package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"i4.energy/across/cellnet/modem"
	"i4.energy/across/cellnet/modemsim"
	"i4.energy/across/cellnet/network"
	"i4.energy/across/cellnet/power"
)

// newLogger returns the JSON logger for level.
func newLogger(level string, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// app is an opened modem with the network on top of it.
type app struct {
	config  *Config
	logger  *slog.Logger
	modem   *modem.Modem
	network *network.Network
	sim     *modemsim.Modem
}

// dialer picks the transport for the configuration. A simulator is
// returned when the configuration asks for one.
func (c *Config) dialer(commands network.CommandSet, logger *slog.Logger) (modem.Dialer, *modemsim.Modem) {
	switch {
	case c.Simulate:
		model := modemsim.SIM7080
		if commands.Model() == network.ModelSIM800 {
			model = modemsim.SIM800
		}
		sim := modemsim.New(modemsim.Config{
			Model:  model,
			PIN:    c.SimPIN,
			Logger: logger,
		})
		return modem.TransportDialer{Transport: sim}, sim
	case c.ModemURL != "":
		return modem.WebSocketDialer{
			URL:      c.ModemURL,
			Username: c.ModemUsername,
			Password: c.ModemPassword,
		}, nil
	default:
		return modem.SerialDialer{PortName: c.SerialPort, BaudRate: c.BaudRate}, nil
	}
}

// openApp opens the modem and builds the network. The caller runs the
// modem loop and closes both.
func openApp(ctx context.Context, config *Config, logger *slog.Logger) (*app, error) {
	commands, err := network.ModelByName(config.Model)
	if err != nil {
		return nil, err
	}

	if config.PowerOnStart && config.PowerKeyPin != "" && !config.Simulate {
		key, err := power.Open(config.PowerKeyPin)
		if err != nil {
			return nil, err
		}
		logger.Info("Pressing power key", "pin", config.PowerKeyPin)
		if err := key.Press(ctx); err != nil {
			return nil, fmt.Errorf("power on modem: %w", err)
		}
	}

	dialer, sim := config.dialer(commands, logger.With("component", "modemsim"))
	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithURCPrefixes(commands.URCPrefixes()...).
		WithLogger(logger.With("component", "modem")).
		WithDialer(dialer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("create modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return nil, fmt.Errorf("create modem: %w", err)
	}

	n := network.New(m, m, commands,
		network.WithLogger(logger.With("component", "network")),
		network.WithAutoReconnect(config.AutoReconnect),
	)
	return &app{config: config, logger: logger, modem: m, network: n, sim: sim}, nil
}

// connect brings the network up with the configured PIN and access point.
func (a *app) connect(ctx context.Context) error {
	return a.network.Connect(ctx, network.PIN(a.config.SimPIN), a.config.AccessPoint, a.config.MaxRetry)
}

// close shuts the network down, then the modem.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.network.Close(ctx); err != nil && !errors.Is(err, network.ErrClosed) {
		errs = append(errs, fmt.Errorf("close network: %w", err))
	}
	if err := a.modem.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
		errs = append(errs, fmt.Errorf("close modem: %w", err))
	}
	return errors.Join(errs...)
}

// detach releases the modem without touching the data connection, so a
// one-shot command leaves the modem as it found or made it.
func (a *app) detach() error {
	var errs []error
	if err := a.network.Detach(); err != nil && !errors.Is(err, network.ErrClosed) {
		errs = append(errs, fmt.Errorf("detach network: %w", err))
	}
	if err := a.modem.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
		errs = append(errs, fmt.Errorf("close modem: %w", err))
	}
	return errors.Join(errs...)
}

// runOnce opens the modem, runs fn with the loop going and releases the
// modem afterwards. The connection stays as fn left it.
func runOnce(ctx context.Context, config *Config, logger *slog.Logger, fn func(context.Context, *app) error) error {
	a, err := openApp(ctx, config, logger)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- a.modem.Loop(loopCtx) }()

	fnErr := fn(ctx, a)

	closeErr := a.detach()
	cancel()
	<-loopDone

	return errors.Join(fnErr, closeErr)
}

// readPIN prompts for the SIM PIN without echo. Input that is not a
// terminal is read as a plain line.
func readPIN(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "SIM PIN: ")
	defer fmt.Fprintln(out)

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		pin, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		return strings.TrimSpace(string(pin)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(line), nil
}
