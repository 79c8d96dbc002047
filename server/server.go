package server

import (
	"context"
	"evsim/emulator"
	"evsim/internal"
	"evsim/internal/config"
	"evsim/utility"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

const featureName = "API"

// Controller is what the control API drives, see emulator.Manager.
type Controller interface {
	List() []emulator.Snapshot
	Snapshot(id string) (emulator.Snapshot, bool)
	Frames(id string) ([]emulator.Frame, bool)
	Execute(ctx context.Context, command *emulator.Command) (interface{}, error)
}

// LogReader serves the persisted system log.
type LogReader interface {
	ReadLog() ([]internal.FeatureLogMessage, error)
}

type Server struct {
	conf        *config.Config
	httpServer  *http.Server
	controller  Controller
	logReader   LogReader
	logger      internal.LogHandler
	callTimeout time.Duration
}

func NewServer(conf *config.Config, controller Controller, logger internal.LogHandler) *Server {
	server := Server{
		conf:        conf,
		controller:  controller,
		logger:      logger,
		callTimeout: time.Duration(conf.Simulation.CallTimeoutSeconds+5) * time.Second,
	}
	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &server
}

func (s *Server) SetLogReader(reader LogReader) {
	s.logReader = reader
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET("/api/log", s.handleLog)
	router.GET("/api/cp", s.handleList)
	router.GET("/api/cp/:id", s.handleGet)
	router.GET("/api/cp/:id/frames", s.handleFrames)
	router.POST("/api/cp/:id/connect", s.handleCommand(emulator.CommandConnect))
	router.POST("/api/cp/:id/disconnect", s.handleCommand(emulator.CommandDisconnect))
	router.POST("/api/cp/:id/call", s.handleCommand(emulator.CommandCall))
	router.POST("/api/cp/:id/start", s.handleCommand(emulator.CommandStart))
	router.POST("/api/cp/:id/stop", s.handleCommand(emulator.CommandStop))
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Api.BindIP, s.conf.Api.Port)
	s.logger.FeatureEvent(featureName, "", fmt.Sprintf("starting control api on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
