package main

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"i4.energy/across/cellnet/modemsim"
)

func TestRunOnce(t *testing.T) {
	config, err := LoadConfig(WithDefaults(), func(c *Config) error {
		c.Simulate = true
		c.AutoReconnect = false
		return nil
	})
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)

	shutdown := []string{"AT+CNACT=0,0", "AT+CREBOOT"}

	t.Run("Information leaves the modem running", func(t *testing.T) {
		var sim *modemsim.Modem
		err := runOnce(context.Background(), config, logger, func(ctx context.Context, a *app) error {
			sim = a.sim
			_, err := a.network.Information(ctx)
			return err
		})
		if err != nil {
			t.Fatalf("runOnce() failed: %v", err)
		}

		history := sim.History()
		if !slices.Contains(history, "AT+CSQ") {
			t.Errorf("signal was not queried, history %q", history)
		}
		for _, cmd := range shutdown {
			if slices.Contains(history, cmd) {
				t.Errorf("unexpected %s in history %q", cmd, history)
			}
		}
	})

	t.Run("Connect leaves the connection up", func(t *testing.T) {
		var sim *modemsim.Modem
		err := runOnce(context.Background(), config, logger, func(ctx context.Context, a *app) error {
			sim = a.sim
			return a.connect(ctx)
		})
		if err != nil {
			t.Fatalf("runOnce() failed: %v", err)
		}

		if !sim.Active() {
			t.Error("data connection was torn down")
		}
		history := sim.History()
		for _, cmd := range shutdown {
			if slices.Contains(history, cmd) {
				t.Errorf("unexpected %s in history %q", cmd, history)
			}
		}
	})
}
