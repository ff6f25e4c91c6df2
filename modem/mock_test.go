package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/cellnet/modem"
)

type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Exchange expects cmd to be written and answers it with resp.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	// Echo is still on for the very first command
	return b.Exchange("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Exchange("AT+CMEE=2", "OK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the complete initialization sequence run by modem.New.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		VerboseErrors().
		Build()
}
