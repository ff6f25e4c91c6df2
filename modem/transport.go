package modem

//go:generate go tool mockgen -destination=mock_transport.go -package=modem . Transport,Dialer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, WebSocket serial bridges,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, a WebSocket bridge, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// TransportDialer hands out an already established Transport, such as an
// in-memory simulator or a TestTransport.
type TransportDialer struct {
	Transport Transport
}

// Dial implements Dialer.
func (d TransportDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Transport, nil
}

// SerialDialer opens the modem over a local serial port.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB2.
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the full serial line settings.
	Mode *serial.Mode
}

// Dial implements Dialer.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}

// WebSocketDialer reaches a modem exposed by a serial-to-WebSocket bridge.
// Modem bytes travel in WebSocket messages in both directions.
type WebSocketDialer struct {
	// URL of the bridge, ws:// or wss://.
	URL string
	// Username and Password enable HTTP Basic authentication when both are set.
	Username string
	Password string
	// InsecureSkipVerify disables TLS certificate checks for wss://.
	InsecureSkipVerify bool
	// HandshakeTimeout defaults to 10 seconds.
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("modem: invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("modem: unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.InsecureSkipVerify}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("modem: websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("modem: websocket dial failed: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts a message oriented WebSocket connection to a byte stream.
type wsTransport struct {
	conn *websocket.Conn
	buf  []byte

	writeMu sync.Mutex
}

func (w *wsTransport) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsTransport) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}
