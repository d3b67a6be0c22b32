package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatwire/internal/broker"
	"chatwire/internal/constants"
	"chatwire/internal/hub"
	"chatwire/internal/middleware"
	"chatwire/internal/models"
	"chatwire/internal/queue"
	"chatwire/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg       *models.Config
	router    *mux.Router
	logger    *logrus.Logger
	chat      *service.ChatService
	producer  *queue.Producer
	wsHandler http.Handler
	broker    *broker.Client
	verifier  hub.TokenVerifier
	presence  presenceSource
	server    *http.Server
}

// presenceSource is the hub surface the HTTP layer reads; *hub.Hub
// implements it.
type presenceSource interface {
	OnlineUsers() []string
}

func NewServer(cfg *models.Config, chat *service.ChatService, producer *queue.Producer, wsHandler http.Handler, brokerClient *broker.Client, verifier hub.TokenVerifier, presence presenceSource, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		logger:    logger,
		chat:      chat,
		producer:  producer,
		wsHandler: wsHandler,
		broker:    brokerClient,
		verifier:  verifier,
		presence:  presence,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// The websocket handler authenticates during the handshake itself.
	s.router.Handle("/ws", s.wsHandler).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(s.verifier, s.logger))

	api.HandleFunc("/users/online", s.handleOnlineUsers()).Methods(http.MethodGet)

	api.HandleFunc("/conversations", s.handleListConversations()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{userId}", s.handleGetConversation()).Methods(http.MethodGet)

	api.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/search", s.handleSearchMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages/read", s.handleMarkRead()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{conversationId:[0-9]+}", s.handleMessageHistory()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageId:[0-9]+}", s.handleEditMessage()).Methods(http.MethodPut)
	api.HandleFunc("/messages/{messageId:[0-9]+}", s.handleDeleteMessage()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
