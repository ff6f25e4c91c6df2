package network_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"i4.energy/across/cellnet/network"
)

func texts(cmds []network.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Text
	}
	return out
}

func TestSIM7080Commands(t *testing.T) {
	cs := network.SIM7080{}
	ap := network.AccessPoint{Name: "iot.1nce.net", User: "user", Password: "secret"}

	if got := cs.ConfigureAccessPoint(ap).Text; got != `AT+CGDCONT=1,"IP","iot.1nce.net"` {
		t.Errorf("APN: got %q", got)
	}
	if diff := cmp.Diff([]string{`AT+CNCFG=0,1,"iot.1nce.net","user","secret"`}, texts(cs.ConfigureBearer(ap))); diff != "" {
		t.Errorf("bearer mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`AT+CNCFG=0,1,"iot.1nce.net"`}, texts(cs.ConfigureBearer(network.AccessPoint{Name: "iot.1nce.net"}))); diff != "" {
		t.Errorf("bearer without credentials mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AT+CNACT=0,1"}, texts(cs.Activate(false))); diff != "" {
		t.Errorf("activate mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AT+CNACT=0,2"}, texts(cs.Activate(true))); diff != "" {
		t.Errorf("activate with auto-reconnect mismatch (-want +got):\n%s", diff)
	}
	if got := cs.Reactivate().Text; got != "AT+CNACT=0,1" {
		t.Errorf("reactivate: got %q", got)
	}
	if got := cs.Deactivate().Text; got != "AT+CNACT=0,0" {
		t.Errorf("deactivate: got %q", got)
	}
	if query, prefix := cs.IPQuery(); query.Text != "AT+CNACT?" || prefix != "+CNACT:" {
		t.Errorf("IP query: got %q %q", query.Text, prefix)
	}
	if got := cs.ParseIPAddress(`+CNACT: 0,1,"10.94.3.17"`); got != "10.94.3.17" {
		t.Errorf("IP: got %q", got)
	}
	if got := cs.ParseIPAddress("+CNACT: 0"); got != "" {
		t.Errorf("IP of short line: got %q", got)
	}
	if diff := cmp.Diff([]string{"AT+CREBOOT"}, texts(cs.Shutdown())); diff != "" {
		t.Errorf("shutdown mismatch (-want +got):\n%s", diff)
	}
	if !cs.BearerRequired() || cs.DisconnectAlways() {
		t.Error("SIM7080 requires its bearer and clears state only on success")
	}
}

func TestSIM800Commands(t *testing.T) {
	cs := network.SIM800{}
	ap := network.AccessPoint{Name: "internet", User: "web", Password: "web"}

	if got := cs.ConfigureAccessPoint(ap).Text; got != `AT+CSTT="internet","web","web"` {
		t.Errorf("APN: got %q", got)
	}
	wantBearer := []string{
		`AT+SAPBR=3,1,"Contype","GPRS"`,
		`AT+SAPBR=3,1,"APN","internet"`,
		`AT+SAPBR=3,1,"USER","web"`,
		`AT+SAPBR=3,1,"PWD","web"`,
	}
	if diff := cmp.Diff(wantBearer, texts(cs.ConfigureBearer(ap))); diff != "" {
		t.Errorf("bearer mismatch (-want +got):\n%s", diff)
	}
	wantActivate := []string{"AT+CIPSHUT", "AT+CIPMUX=1;+CIPQSEND=1", "AT+CIICR", "AT+SAPBR=1,1"}
	if diff := cmp.Diff(wantActivate, texts(cs.Activate(true))); diff != "" {
		t.Errorf("activate mismatch (-want +got):\n%s", diff)
	}
	if got := cs.Reactivate().Text; got != "AT+SAPBR=1,1" {
		t.Errorf("reactivate: got %q", got)
	}
	if got := cs.Deactivate().Text; got != "AT+SAPBR=0,1" {
		t.Errorf("deactivate: got %q", got)
	}
	if query, prefix := cs.IPQuery(); query.Text != "AT+SAPBR=2,1" || prefix != "+SAPBR:" {
		t.Errorf("IP query: got %q %q", query.Text, prefix)
	}
	if got := cs.ParseIPAddress(`+SAPBR: 1,1,"10.71.155.118"`); got != "10.71.155.118" {
		t.Errorf("IP: got %q", got)
	}
	if len(cs.Shutdown()) != 0 {
		t.Error("SIM800 has no shutdown commands")
	}
	if cs.BearerRequired() || !cs.DisconnectAlways() {
		t.Error("SIM800 bearer is best effort and disconnect always clears state")
	}
}

func TestParseUnsolicited(t *testing.T) {
	tests := []struct {
		name string
		cs   network.CommandSet
		line string
		want network.UnsolicitedKind
	}{
		{"SIM7080 deactivated", network.SIM7080{}, "+APP PDP: 0,DEACTIVE", network.UnsolicitedDeactivated},
		{"SIM7080 activated", network.SIM7080{}, "+APP PDP: 0,ACTIVE", network.UnsolicitedActivated},
		{"SIM7080 other context", network.SIM7080{}, "+APP PDP: 1,DEACTIVE", network.UnsolicitedNone},
		{"SIM7080 garbage", network.SIM7080{}, "+APP PDP: garbage", network.UnsolicitedNone},
		{"SIM7080 empty status", network.SIM7080{}, "+APP PDP: 0,", network.UnsolicitedNone},
		{"SIM7080 time", network.SIM7080{}, `*PSUTTZ: 24/05/13,10:12:30","+8",0`, network.UnsolicitedTime},
		{"SIM7080 bad time", network.SIM7080{}, `*PSUTTZ: yesterday`, network.UnsolicitedNone},
		{"SIM7080 bad zone", network.SIM7080{}, `*PSUTTZ: 24/05/13,10:12:30","east",0`, network.UnsolicitedNone},
		{"SIM7080 ignores SIM800 lines", network.SIM7080{}, "+SAPBR 1: DEACT", network.UnsolicitedNone},
		{"SIM800 deactivated", network.SIM800{}, "+SAPBR 1: DEACT", network.UnsolicitedDeactivated},
		{"SIM800 deactivated colon form", network.SIM800{}, "+SAPBR: 1: DEACT", network.UnsolicitedDeactivated},
		{"SIM800 query response", network.SIM800{}, `+SAPBR: 1,1,"10.0.0.1"`, network.UnsolicitedNone},
		{"SIM800 ignores SIM7080 lines", network.SIM800{}, "+APP PDP: 0,DEACTIVE", network.UnsolicitedNone},
		{"unrelated", network.SIM800{}, "RDY", network.UnsolicitedNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cs.ParseUnsolicited(tt.line).Kind; got != tt.want {
				t.Errorf("ParseUnsolicited(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestNetworkTime(t *testing.T) {
	u := network.SIM7080{}.ParseUnsolicited(`*PSUTTZ: 24/05/13,10:12:30","+8",0`)
	want := time.Date(2024, 5, 13, 10, 12, 30, 0, time.UTC)
	if !u.Time.Equal(want) {
		t.Errorf("got %v, want %v", u.Time, want)
	}
	if _, offset := u.Time.Zone(); offset != 2*3600 {
		t.Errorf("got zone offset %d, want 7200", offset)
	}

	u = network.SIM7080{}.ParseUnsolicited(`*PSUTTZ: 24/12/31,23:00:00","-14",0`)
	if _, offset := u.Time.Zone(); offset != -14*15*60 {
		t.Errorf("got zone offset %d", offset)
	}
}

func TestModelByName(t *testing.T) {
	for name, want := range map[string]network.Model{
		"sim7080":  network.ModelSIM7080,
		"SIM7080G": network.ModelSIM7080,
		"sim800":   network.ModelSIM800,
		" SIM800L": network.ModelSIM800,
	} {
		cs, err := network.ModelByName(name)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", name, err)
			continue
		}
		if cs.Model() != want {
			t.Errorf("%q: got %v, want %v", name, cs.Model(), want)
		}
		if cs.Model().CommandSet().Model() != want {
			t.Errorf("%q: model does not round trip", name)
		}
	}

	if _, err := network.ModelByName("quectel"); !errors.Is(err, network.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	if network.Model(0).CommandSet() != nil {
		t.Error("zero model must not have a command set")
	}
}
