package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is an ordered, reliable, message framed byte channel to one client.
// Send is called only from the connection send loop and Receive only from the receive loop.
type Transport interface {
	Send(ctx context.Context, message []byte) error
	// Receive returns the next non-empty message. Empty messages are keepalives.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	String() string
}

type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
	name         string

	closeOnce sync.Once
}

func newWsTransport(ws *websocket.Conn, settings *ConnectionSettings) *wsTransport {
	ws.SetReadLimit(settings.MaxMessageByteCount)
	return &wsTransport{
		ws:           ws,
		writeTimeout: settings.WriteTimeout,
		readTimeout:  settings.ReadTimeout,
		name:         ws.RemoteAddr().String(),
	}
}

func (self *wsTransport) Send(ctx context.Context, message []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	self.ws.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	// note that for websocket a deadline timeout cannot be recovered
	return self.ws.WriteMessage(websocket.BinaryMessage, message)
}

func (self *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.readTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if 0 == len(message) {
				// ping
				glog.V(2).Infof("[tr]ping %s<-\n", self.name)
				continue
			}
			return message, nil
		default:
			glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, self.name)
		}
	}
}

func (self *wsTransport) Close() error {
	var err error
	self.closeOnce.Do(func() {
		// control writes may run concurrently with the send loop
		self.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(self.writeTimeout),
		)
		err = self.ws.Close()
	})
	return err
}

func (self *wsTransport) String() string {
	return self.name
}

// WebsocketHandler upgrades viewer connections and joins them to the connection manager.
type WebsocketHandler struct {
	connectionManager *ConnectionManager
	authenticator     *Authenticator
	upgrader          *websocket.Upgrader
	settings          *ServerSettings
}

func NewWebsocketHandler(
	connectionManager *ConnectionManager,
	authenticator *Authenticator,
	settings *ServerSettings,
) *WebsocketHandler {
	allowedOrigins := settings.Transport.AllowedOrigins
	upgrader := &websocket.Upgrader{
		HandshakeTimeout: settings.Transport.WsHandshakeTimeout,
		ReadBufferSize:   settings.Transport.ReadBufferSize,
		WriteBufferSize:  settings.Transport.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return &WebsocketHandler{
		connectionManager: connectionManager,
		authenticator:     authenticator,
		upgrader:          upgrader,
		settings:          settings,
	}
}

func (self *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientJwt, err := self.authenticator.Authenticate(r)
	if err != nil {
		glog.Infof("[ws]auth error %s = %s\n", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the response
		glog.Infof("[ws]upgrade error %s = %s\n", r.RemoteAddr, err)
		return
	}

	transport := newWsTransport(ws, self.settings.Connection)
	connection, err := self.connectionManager.Join(transport, clientJwt.ClientName)
	if err != nil {
		glog.Infof("[ws]join error %s = %s\n", r.RemoteAddr, err)
		transport.Close()
		return
	}
	glog.V(1).Infof("[ws]%s joined as %s (%s)\n", r.RemoteAddr, connection.Id(), clientJwt.ClientName)
}

// DialViewer connects to a viewer server as a client.
func DialViewer(ctx context.Context, serverUrl string, jwt string, settings *ServerSettings) (Transport, error) {
	u, err := url.Parse(serverUrl)
	if err != nil {
		return nil, err
	}
	if jwt != "" {
		query := u.Query()
		query.Set("token", jwt)
		u.RawQuery = query.Encode()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.Transport.WsHandshakeTimeout,
		ReadBufferSize:   settings.Transport.ReadBufferSize,
		WriteBufferSize:  settings.Transport.WriteBufferSize,
	}
	connect := func() (*websocket.Conn, error) {
		ws, response, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if response != nil && response.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: %s", ErrUnauthorized, serverUrl)
			}
			return nil, err
		}
		return ws, nil
	}

	var ws *websocket.Conn
	if glog.V(2) {
		ws, err = TraceWithReturnError(fmt.Sprintf("[t]connect %s", u.Host), connect)
	} else {
		ws, err = connect()
	}
	if err != nil {
		return nil, err
	}
	return newWsTransport(ws, settings.Connection), nil
}
