// Package handlers provides HTTP request handlers for the development
// server.
package handlers

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/server/broker"
	"github.com/agentstation/reqsync/internal/server/cache"
	"github.com/agentstation/reqsync/internal/server/mock"
	"github.com/agentstation/reqsync/internal/server/sse"
	"github.com/agentstation/reqsync/internal/server/store"
	ws "github.com/agentstation/reqsync/internal/server/websocket"
)

// Deps groups the collaborators the handlers need. Generator may be nil.
type Deps struct {
	Store          *store.Store
	Cache          *cache.Cache
	Broker         *broker.Broker
	Hub            *ws.Hub
	SSEBroadcaster *sse.Broadcaster
	Generator      *mock.Generator
	Upgrader       websocket.Upgrader
	Logger         *zerolog.Logger
	StartTime      time.Time
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	store          *store.Store
	cache          *cache.Cache
	broker         *broker.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	generator      *mock.Generator
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	startTime      time.Time
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	return &Handlers{
		store:          d.Store,
		cache:          d.Cache,
		broker:         d.Broker,
		wsHub:          d.Hub,
		sseBroadcaster: d.SSEBroadcaster,
		generator:      d.Generator,
		upgrader:       d.Upgrader,
		logger:         d.Logger,
		startTime:      d.StartTime,
	}
}
