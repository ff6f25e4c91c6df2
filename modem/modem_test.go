package modem_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"
	"i4.energy/across/cellnet/modem"
)

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m == nil {
			t.Fatal("New() should return valid modem on success")
		}

		// Clean up
		mockTransport.EXPECT().Close().Return(nil)
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Closes transport when initialization fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		calls := NewMockSequence(mockTransport).
			AT().
			Exchange("ATE0", "ERROR\r\n").
			Build()

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				calls,
				[]any{
					mockTransport.EXPECT().Close(),
				},
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		var atErr *modem.Error
		if !errors.As(err, &atErr) {
			t.Fatalf("expected *modem.Error, got: %v", err)
		}
		if atErr.Command != "ATE0" || atErr.Result != "ERROR" {
			t.Errorf("unexpected error details: %+v", atErr)
		}
		if m != nil {
			t.Error("New() should return nil modem when error occurs")
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)

		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Closes underlying transport successfully", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("transport close failed")
		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(closeError),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != closeError {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
			[]any{
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}

		if err := m.Close(); err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}

		if err := m.SendCommand(context.Background(), "AT", 0); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed from SendCommand after close, got: %v", err)
		}
	})
}

func TestModemLoop(t *testing.T) {
	newMockModem := func(t *testing.T, ctrl *gomock.Controller, ctx context.Context) (*modem.Modem, *modem.MockTransport) {
		t.Helper()
		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				},
				initMockCalls(mockTransport),
			)...,
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}
		return m, mockTransport
	}

	t.Run("Starts and stops on EOF", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m, mockTransport := newMockModem(t, ctrl, ctx)
		defer m.Close()

		allowEOF := make(chan struct{})

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			<-allowEOF
			return 0, io.EOF
		})
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		close(allowEOF)
		err := <-loopDone

		if err != nil && !errors.Is(err, io.EOF) {
			t.Errorf("expected Loop to handle EOF gracefully, got: %v", err)
		}
	})

	t.Run("Dispatch URCs to subscribers", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ctx := context.Background()
		m, mockTransport := newMockModem(t, ctrl, ctx)
		defer m.Close()

		received := make(chan string, 1)
		cancelSub := m.Subscribe(func(line string) {
			received <- line
		})
		defer cancelSub()

		// Coordinate reads to ensure URC is processed before EOF
		allowEOF := make(chan struct{})

		gomock.InOrder(
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "+CMTI: \"SM\",1\r\n"), nil
			}),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				<-allowEOF
				return 0, io.EOF
			}),
		)
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		select {
		case urc := <-received:
			if !strings.Contains(urc, "+CMTI:") {
				t.Errorf("expected URC to contain +CMTI:, got: %q", urc)
			}
		case <-time.After(time.Second):
			t.Error("expected URC to be received within timeout")
		}

		close(allowEOF)
		err := <-loopDone

		if err != nil && !errors.Is(err, io.EOF) {
			t.Errorf("expected Loop to handle EOF gracefully, got: %v", err)
		}
	})

	t.Run("Exits gracefully on context cancellation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ctx, cancel := context.WithCancel(context.Background())
		m, mockTransport := newMockModem(t, ctrl, ctx)
		defer m.Close()

		readStarted := make(chan struct{})

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			close(readStarted)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		<-readStarted
		cancel()

		err := <-loopDone
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected Loop to return context.Canceled, got: %v", err)
		}
	})

	t.Run("Handle scanner errors from Transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ctx := context.Background()
		m, mockTransport := newMockModem(t, ctrl, ctx)
		defer m.Close()

		scannerError := errors.New("transport read error")

		mockTransport.EXPECT().Read(gomock.Any()).Return(0, scannerError)
		mockTransport.EXPECT().Close().Return(nil)

		err := m.Loop(ctx)
		if err == nil {
			t.Fatal("expected Loop to return scanner error")
		}
		if !errors.Is(err, scannerError) {
			t.Errorf("expected scanner error to be wrapped, got: %v", err)
		}
	})

	t.Run("ErrLoopRunning on consecutive calls", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m, mockTransport := newMockModem(t, ctrl, ctx)
		defer m.Close()

		readStarted := make(chan struct{})
		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			close(readStarted)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		mockTransport.EXPECT().Close().Return(nil)

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		// The first Loop is running once its reader is blocked in Read
		<-readStarted

		err := m.Loop(ctx)
		if !errors.Is(err, modem.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}

		cancel()
		<-loopDone
	})
}

// newLoopModem returns a modem running its Loop over a TestTransport.
func newLoopModem(t *testing.T, prefixes ...string) (*modem.Modem, *modem.TestTransport) {
	t.Helper()

	tt := modem.NewTestTransport()
	// Answers for AT, ATE0 and AT+CMEE=2
	tt.SendData("OK\r\nOK\r\nOK\r\n")

	config, err := modem.NewConfigBuilder().
		WithDialer(modem.TransportDialer{Transport: tt}).
		WithATTimeout(time.Second).
		WithLateResultWindow(200 * time.Millisecond).
		WithURCPrefixes(prefixes...).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	for range 3 {
		<-tt.Written()
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- m.Loop(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		m.Close()
		<-loopDone
	})
	return m, tt
}

// answer waits for cmd to be written and replies with resp.
func answer(t *testing.T, tt *modem.TestTransport, cmd, resp string) {
	t.Helper()
	select {
	case w := <-tt.Written():
		if w != cmd+"\r" {
			t.Errorf("expected %q to be written, got %q", cmd+"\r", w)
		}
	case <-time.After(time.Second):
		t.Errorf("command %q was not written", cmd)
		return
	}
	tt.SendData(resp)
}

func TestModemExec(t *testing.T) {
	t.Run("Collects intermediate lines", func(t *testing.T) {
		m, tt := newLoopModem(t)

		go answer(t, tt, "AT+CNACT?", "+CNACT: 0,1,\"10.0.0.5\"\r\n+CNACT: 1,0,\"0.0.0.0\"\r\n\r\nOK\r\n")

		resp, err := m.Exec(context.Background(), "AT+CNACT?", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := modem.Response{
			Intermediates: []string{`+CNACT: 0,1,"10.0.0.5"`, `+CNACT: 1,0,"0.0.0.0"`},
			Final:         "OK",
		}
		if diff := cmp.Diff(want, resp); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		if !resp.Success() {
			t.Error("expected Success()")
		}
	})

	t.Run("Reports CME errors", func(t *testing.T) {
		m, tt := newLoopModem(t)

		go answer(t, tt, "AT+CNACT=0,1", "+CME ERROR: 3\r\n")

		err := m.SendCommand(context.Background(), "AT+CNACT=0,1", 0)
		var atErr *modem.Error
		if !errors.As(err, &atErr) {
			t.Fatalf("expected *modem.Error, got: %v", err)
		}
		if code, ok := atErr.Code(); !ok || code != 3 {
			t.Errorf("expected CME code 3, got %d (%v)", code, ok)
		}
	})

	t.Run("Reads a single prefixed line", func(t *testing.T) {
		m, tt := newLoopModem(t)

		go answer(t, tt, "AT+COPS?", "+COPS: 0,0,\"Orange F\",7\r\nOK\r\n")

		line, err := m.SendCommandReadSingleLine(context.Background(), "AT+COPS?", "+COPS", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if line != `+COPS: 0,0,"Orange F",7` {
			t.Errorf("unexpected line %q", line)
		}
	})

	t.Run("Empty line when the prefix is missing", func(t *testing.T) {
		m, tt := newLoopModem(t)

		go answer(t, tt, "AT+COPS?", "OK\r\n")

		line, err := m.SendCommandReadSingleLine(context.Background(), "AT+COPS?", "+COPS", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if line != "" {
			t.Errorf("expected empty line, got %q", line)
		}
	})

	t.Run("Times out and accepts the next command", func(t *testing.T) {
		m, tt := newLoopModem(t)

		err := m.SendCommand(context.Background(), "AT+CIICR", 50*time.Millisecond)
		if !errors.Is(err, modem.ErrCommandTimeout) {
			t.Fatalf("expected ErrCommandTimeout, got: %v", err)
		}
		<-tt.Written()

		go answer(t, tt, "AT", "OK\r\n")
		if err := m.SendCommand(context.Background(), "AT", 0); err != nil {
			t.Errorf("unexpected error after timeout: %v", err)
		}
	})

	t.Run("Late result of a timed out command is discarded", func(t *testing.T) {
		m, tt := newLoopModem(t)

		err := m.SendCommand(context.Background(), "AT+CIICR", 20*time.Millisecond)
		if !errors.Is(err, modem.ErrCommandTimeout) {
			t.Fatalf("expected ErrCommandTimeout, got: %v", err)
		}
		<-tt.Written()

		// The late answer arrives while the next command is waiting.
		sent := make(chan error, 1)
		go func() {
			_, err := m.Exec(context.Background(), "AT+CSQ", 0)
			sent <- err
		}()
		select {
		case w := <-tt.Written():
			t.Fatalf("command %q written before the late result arrived", w)
		case <-time.After(10 * time.Millisecond):
		}
		tt.SendData("ERROR\r\n")

		go answer(t, tt, "AT+CSQ", "+CSQ: 20,0\r\nOK\r\n")
		if err := <-sent; err != nil {
			t.Errorf("late ERROR must not answer the next command, got: %v", err)
		}
	})

	t.Run("URC during a command goes to subscribers", func(t *testing.T) {
		m, tt := newLoopModem(t, "+APP PDP:")

		received := make(chan string, 1)
		defer m.Subscribe(func(line string) { received <- line })()

		go answer(t, tt, "AT+CSQ", "+APP PDP: 0,DEACTIVE\r\n+CSQ: 20,99\r\nOK\r\n")

		resp, err := m.Exec(context.Background(), "AT+CSQ", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"+CSQ: 20,99"}, resp.Intermediates); diff != "" {
			t.Errorf("intermediates mismatch (-want +got):\n%s", diff)
		}

		select {
		case line := <-received:
			if line != "+APP PDP: 0,DEACTIVE" {
				t.Errorf("unexpected URC %q", line)
			}
		case <-time.After(time.Second):
			t.Error("URC was not delivered")
		}
	})

	t.Run("Unsolicited data lines and panicking subscribers", func(t *testing.T) {
		m, tt := newLoopModem(t)

		m.Subscribe(func(line string) { panic("boom") })
		received := make(chan string, 2)
		m.Subscribe(func(line string) { received <- line })

		tt.SendData("+SAPBR 1: DEACT\r\n")
		tt.SendData("SMS Ready\r\n")

		for _, want := range []string{"+SAPBR 1: DEACT", "SMS Ready"} {
			select {
			case line := <-received:
				if line != want {
					t.Errorf("expected %q, got %q", want, line)
				}
			case <-time.After(time.Second):
				t.Fatalf("line %q was not delivered", want)
			}
		}
	})

	t.Run("Cancelled subscription receives nothing", func(t *testing.T) {
		m, tt := newLoopModem(t)

		received := make(chan string, 1)
		cancel := m.Subscribe(func(line string) { received <- line })
		cancel()
		cancel()

		sentinel := make(chan string, 1)
		m.Subscribe(func(line string) { sentinel <- line })

		tt.SendData("RDY\r\n")
		<-sentinel

		select {
		case line := <-received:
			t.Errorf("cancelled subscriber got %q", line)
		default:
		}
	})
}
