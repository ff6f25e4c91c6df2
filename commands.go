package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"i4.energy/across/cellnet/events"
	"i4.energy/across/cellnet/modem"
	"i4.energy/across/cellnet/network"
	"i4.energy/across/cellnet/power"
)

var (
	configPath string
	askPIN     bool
)

var rootCmd = &cobra.Command{
	Use:   "cellnet",
	Short: "Cellular data connection manager for SIMCom modems",
	Long: `cellnet drives a SIMCom SIM7080 or SIM800 modem over AT commands and
keeps its packet data connection up.

Connection modes:
  Serial:    --serial-port /dev/ttyUSB0 [--baud-rate 115200]
  WebSocket: --modem-url ws://host/path [--modem-username user]
  Simulated: --simulate

Settings are read from defaults, the YAML file given with --config, the
environment and the flags, in that order. Secrets such as the APN password
are only read from the file or the environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.BoolVar(&askPIN, "ask-pin", false, "Prompt for the SIM PIN")
	f.StringP("serial-port", "p", "/dev/ttyUSB0", "Serial port to connect to the modem")
	f.IntP("baud-rate", "b", 115200, "Baud rate for serial communication")
	f.StringP("modem-url", "u", "", "WebSocket URL of a serial bridge (ws:// or wss://)")
	f.String("modem-username", "", "Username for HTTP Basic auth on the bridge")
	f.StringP("model", "m", "sim7080", "Modem model (sim7080, sim800)")
	f.String("apn", "", "Access point name")
	f.String("apn-user", "", "Access point user name")
	f.String("sim-pin", "", "SIM card PIN code (if required)")
	f.Int("max-retry", network.DefaultMaxRetry, "Retry budget of one connect")
	f.Bool("auto-reconnect", true, "Restore a dropped connection automatically")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("power-key-pin", "", "GPIO wired to the modem PWRKEY (e.g. GPIO4)")
	f.Bool("power-on-start", false, "Press the power key before opening the modem")
	f.Bool("simulate", false, "Use an in-memory modem simulator")

	rootCmd.AddCommand(serveCmd, connectCmd, infoCmd, operatorsCmd, powerCmd)
}

// loadConfig resolves the configuration of cmd and asks for the PIN when
// requested.
func loadConfig(cmd *cobra.Command) (*Config, *slog.Logger, error) {
	config, err := LoadConfig(WithDefaults(), WithFile(configPath), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if askPIN && config.SimPIN == "" {
		pin, err := readPIN(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return nil, nil, err
		}
		config.SimPIN = pin
	}
	return config, newLogger(config.LogLevel, cmd.ErrOrStderr()), nil
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Bring the data connection up once and print the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runOnce(cmd.Context(), config, logger, func(ctx context.Context, a *app) error {
			if err := a.connect(ctx); err != nil {
				return err
			}
			info, err := a.network.Information(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), renderInformation(info, err))
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print operator, signal and address without connecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runOnce(cmd.Context(), config, logger, func(ctx context.Context, a *app) error {
			info, err := a.network.Information(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), renderInformation(info, err))
			return nil
		})
	},
}

var operatorsCmd = &cobra.Command{
	Use:   "operators",
	Short: "Scan for operators (takes up to a few minutes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runOnce(cmd.Context(), config, logger, func(ctx context.Context, a *app) error {
			ops, err := a.network.Operators(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOperators(ops))
			return nil
		})
	},
}

var powerCycle bool

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Press the modem power key",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if config.PowerKeyPin == "" {
			return errors.New("--power-key-pin is required")
		}
		key, err := power.Open(config.PowerKeyPin)
		if err != nil {
			return err
		}
		if powerCycle {
			logger.Info("Power cycling modem", "pin", config.PowerKeyPin)
			return key.PowerCycle(cmd.Context())
		}
		logger.Info("Pressing power key", "pin", config.PowerKeyPin)
		return key.Press(cmd.Context())
	},
}

func init() {
	powerCmd.Flags().BoolVar(&powerCycle, "cycle", false, "Switch the modem off and on again")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the connection up and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), config, logger)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	f.Duration("watchdog-interval", time.Minute, "How often a wanted connection is checked")
	f.String("nats-url", "", "Publish network events to this NATS server")
	f.Int("nats-port", 0, "Run an embedded NATS server on this port")
	f.String("nats-prefix", events.DefaultPrefix, "Subject prefix of published events")
	f.Duration("report-interval", 5*time.Minute, "How often the network information is published")
}

func serve(ctx context.Context, config *Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, config, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting cellular network manager", "model", config.Model, "apn", config.AccessPoint.Name, "simulate", config.Simulate)

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	{
		supervisorCtx, cancel := context.WithCancel(ctx)
		watchdog := network.NewWatchdog(a.network, config.WatchdogInterval, logger.With("component", "watchdog"))
		g.Add(func() error {
			if err := connectUntilUp(supervisorCtx, a, logger); err != nil {
				return err
			}
			return watchdog.Run(supervisorCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		httpServer := &http.Server{
			Addr: config.BindAddress,
			Handler: &Server{
				Logger:      logger.With("component", "server"),
				Network:     a.network,
				PIN:         network.PIN(config.SimPIN),
				AccessPoint: config.AccessPoint,
				MaxRetry:    config.MaxRetry,
			},
		}
		g.Add(func() error {
			logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			logger.Info("Closing HTTP server")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to gracefully shutdown server", "error", err)
			}
		})
	}

	stopEvents, err := startEvents(ctx, &g, config, a, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(err, a.close(closeCtx))
	}
	defer stopEvents()

	// The loop is added last so the network is closed after the other
	// actors stopped using it, while the modem still answers.
	{
		loopCtx, cancel := context.WithCancel(ctx)
		stopped := make(chan struct{})
		g.Add(func() error {
			defer close(stopped)
			return a.modem.Loop(loopCtx)
		}, func(error) {
			select {
			case <-stopped:
			default:
				closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
				logger.Info("Closing network")
				if err := a.network.Close(closeCtx); err != nil && !errors.Is(err, network.ErrClosed) {
					logger.Error("Failed to close network", "error", err)
				}
				closeCancel()
			}
			cancel()
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info("Received shutdown signal", "signal", sigErr.Signal)
		err = nil
	}

	// With the loop gone the modem is closed first, so any command still
	// issued by the network fails at once.
	logger.Info("Closing modem connection")
	if closeErr := a.modem.Close(); closeErr != nil && !errors.Is(closeErr, modem.ErrAlreadyClosed) {
		logger.Error("Failed to close modem", "error", closeErr)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.network.Close(closeCtx)
	return err
}

// connectUntilUp retries the initial connect until it succeeds. The
// watchdog only restores connections that were up once.
func connectUntilUp(ctx context.Context, a *app, logger *slog.Logger) error {
	for {
		err := a.connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, network.ErrClosed) {
			return err
		}
		logger.Warn("Initial connect failed", "error", err, "retry_in", a.config.WatchdogInterval)

		t := time.NewTimer(a.config.WatchdogInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// startEvents connects to NATS, starting the embedded server first when
// configured, and adds the event reporter to g. The returned function
// releases the connection and the server.
func startEvents(ctx context.Context, g *run.Group, config *Config, a *app, logger *slog.Logger) (func(), error) {
	if config.NATSURL == "" && config.NATSPort == 0 {
		return func() {}, nil
	}

	var ns *server.Server
	url := config.NATSURL
	if config.NATSPort != 0 {
		var err error
		ns, err = events.StartServer("0.0.0.0", config.NATSPort)
		if err != nil {
			return nil, err
		}
		logger.Info("Started embedded NATS server", "url", ns.ClientURL())
		if url == "" {
			url = ns.ClientURL()
		}
	}

	nc, err := events.Connect(url, logger.With("component", "nats"))
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, err
	}

	pub := events.NewPublisher(nc, config.NATSPrefix, logger.With("component", "events"))
	detach := pub.Attach(a.network)

	reportCtx, cancel := context.WithCancel(ctx)
	reporter := events.NewReporter(pub, a.network.Information, config.ReportInterval)
	g.Add(func() error {
		if err := reporter.Run(reportCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}, func(error) {
		cancel()
	})

	return func() {
		detach()
		drain(nc, logger)
		if ns != nil {
			ns.Shutdown()
		}
	}, nil
}

func drain(nc *nats.Conn, logger *slog.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", "error", err)
		nc.Close()
	}
}
