package stdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// Transport moves opaque binary frames. It is the single hook for test
// doubles and for choosing between websocket implementations.
//
// Receive returns (nil, nil) when no frame is available (pings and
// ignored text frames), and (nil, io.EOF) when the peer closed.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// the fixed subprotocol token identifying the v2 bsatn protocol variant
const SubprotocolBsatn = "v2.bsatn.spacetimedb"

type WebSocketTransportSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
}

func DefaultWebSocketTransportSettings() *WebSocketTransportSettings {
	return &WebSocketTransportSettings{
		// connect-time handshake, on the order of ten seconds
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// WebSocketTransport is the production transport: binary frames over one
// websocket connection. An empty binary frame is a keepalive and is
// reported as no-frame-yet.
type WebSocketTransport struct {
	ws       *websocket.Conn
	settings *WebSocketTransportSettings
}

// DialWebSocket opens a websocket to url with the bsatn subprotocol and,
// when token is not empty, a bearer authorization header.
func DialWebSocket(ctx context.Context, url string, token string, settings *WebSocketTransportSettings) (*WebSocketTransport, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.HandshakeTimeout,
		Subprotocols:     []string{SubprotocolBsatn},
	}
	header := http.Header{}
	if token != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		glog.Infof("[ws]dial error = %s\n", err)
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return &WebSocketTransport{
		ws:       ws,
		settings: settings,
	}, nil
}

func (self *WebSocketTransport) Send(frame []byte) error {
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := self.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		// a websocket deadline timeout cannot be recovered
		glog.Infof("[ws]-> error = %s\n", err)
		return fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	glog.V(2).Infof("[ws]-> %d\n", len(frame))
	return nil
}

func (self *WebSocketTransport) Receive() ([]byte, error) {
	self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	messageType, message, err := self.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			glog.V(2).Infof("[ws]<- closed\n")
			return nil, io.EOF
		}
		glog.Infof("[ws]<- error = %s\n", err)
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	switch messageType {
	case websocket.BinaryMessage:
		if len(message) == 0 {
			// ping
			glog.V(2).Infof("[ws]<- ping\n")
			return nil, nil
		}
		glog.V(2).Infof("[ws]<- %d\n", len(message))
		return message, nil
	default:
		// the protocol is binary only
		glog.V(2).Infof("[ws]<- other=%d dropped\n", messageType)
		return nil, nil
	}
}

func (self *WebSocketTransport) Close() error {
	return self.ws.Close()
}
