package network_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"i4.energy/across/cellnet/network"
)

func TestParseOperators(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []network.Operator
	}{
		{
			name: "two operators with trailer",
			line: `+COPS: (1,"F-Bouygues Telecom","BYTEL","20820",9),(1,"Orange F","Orange","20801",7),,(0,1,2,3,4),(0,1,2)`,
			want: []network.Operator{
				{Type: network.OperatorAvailable, Name: "F-Bouygues Telecom", ShortName: "BYTEL", Format: "20820", SystemMode: network.ModeNBIoT},
				{Type: network.OperatorAvailable, Name: "Orange F", ShortName: "Orange", Format: "20801", SystemMode: network.ModeLTEM},
			},
		},
		{
			name: "current and forbidden",
			line: `+COPS: (2,"SFR","SFR","20810",0),(3,"Free","Free","20815",2)`,
			want: []network.Operator{
				{Type: network.OperatorCurrent, Name: "SFR", ShortName: "SFR", Format: "20810", SystemMode: network.ModeGSM},
				{Type: network.OperatorForbidden, Name: "Free", ShortName: "Free", Format: "20815", SystemMode: network.ModeUTRAN},
			},
		},
		{
			name: "comma and parenthesis inside a name",
			line: `+COPS: (2,"Foo, (Bar)","FB","12345",7),(1,"Orange F","Orange","20801",7),,(0,1),(0,2)`,
			want: []network.Operator{
				{Type: network.OperatorCurrent, Name: "Foo, (Bar)", ShortName: "FB", Format: "12345", SystemMode: network.ModeLTEM},
				{Type: network.OperatorAvailable, Name: "Orange F", ShortName: "Orange", Format: "20801", SystemMode: network.ModeLTEM},
			},
		},
		{
			name: "double comma inside a name",
			line: `+COPS: (1,"A,,B","AB","20899",9),,(0,1,2,3,4),(0,1,2)`,
			want: []network.Operator{
				{Type: network.OperatorAvailable, Name: "A,,B", ShortName: "AB", Format: "20899", SystemMode: network.ModeNBIoT},
			},
		},
		{
			name: "nothing found",
			line: `+COPS: ,,(0,1,2,3,4),(0,1,2)`,
			want: []network.Operator{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := network.ParseOperators(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("expected a non-nil slice")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("operators mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseOperatorsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"OK",
		`(1,"Orange F","Orange","20801",7)`,
		`+COPS: (1,"Orange F","Orange",7)`,
		`+COPS: (x,"Orange F","Orange","20801",7)`,
		`+COPS: (1,"Orange F","Orange","20801",LTE)`,
		`+COPS: 1,"Orange F","Orange","20801",7)`,
		`+COPS: (1,"Orange F)","Orange","20801",7`,
	} {
		t.Run(line, func(t *testing.T) {
			got, err := network.ParseOperators(line)
			if !errors.Is(err, network.ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
			if got != nil {
				t.Errorf("expected nil operators, got %v", got)
			}
		})
	}
}

func TestSystemModeString(t *testing.T) {
	if got := network.ModeNBIoT.String(); got != "NB-IoT" {
		t.Errorf("got %q", got)
	}
	if got := network.SystemMode(5).String(); got != "SystemMode(5)" {
		t.Errorf("got %q", got)
	}
	if got := network.OperatorForbidden.String(); got != "forbidden" {
		t.Errorf("got %q", got)
	}
}
