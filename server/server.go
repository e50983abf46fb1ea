package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

// Server wires the store, the connections and the transfer flows of one viewer.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	Registry          *Registry
	Dispatcher        *Dispatcher
	Store             *Store
	FileTransfers     *FileTransferManager
	Events            *EventRouter
	ConnectionManager *ConnectionManager

	settings *ServerSettings
}

func NewServerWithDefaults(ctx context.Context) *Server {
	return NewServer(ctx, DefaultServerSettings())
}

func NewServer(ctx context.Context, settings *ServerSettings) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)

	registry := NewRegistry()
	dispatcher := NewDispatcher(registry)
	store := NewStore(dispatcher)
	fileTransfers := NewFileTransferManager(dispatcher, settings.FileTransfer)
	events := NewEventRouter(store, dispatcher, fileTransfers)
	connectionManager := NewConnectionManager(
		cancelCtx,
		store,
		registry,
		events,
		fileTransfers,
		settings.Connection,
	)

	return &Server{
		ctx:               cancelCtx,
		cancel:            cancel,
		Registry:          registry,
		Dispatcher:        dispatcher,
		Store:             store,
		FileTransfers:     fileTransfers,
		Events:            events,
		ConnectionManager: connectionManager,
		settings:          settings,
	}
}

// Handler returns the websocket endpoint for viewer clients.
func (self *Server) Handler() http.Handler {
	return NewWebsocketHandler(
		self.ConnectionManager,
		NewAuthenticator(self.settings.JwtSecret),
		self.settings,
	)
}

// ListenAndServe serves viewer clients until the server context is done.
func (self *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", self.settings.ListenAddress)
	if err != nil {
		return err
	}
	return self.Serve(listener)
}

func (self *Server) Serve(listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/", self.Handler())
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: self.settings.Transport.WsHandshakeTimeout,
	}

	go func() {
		<-self.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	glog.Infof("[server]listening on %s\n", listener.Addr())
	err := httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (self *Server) Close() {
	self.cancel()
	self.ConnectionManager.Close()
}
