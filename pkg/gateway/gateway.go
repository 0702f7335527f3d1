// Package gateway exposes configuration changes to admin UIs over
// WebSocket. It is a pure consumer of the config event bus: it never
// mutates configuration and the write path never blocks on it.
//
// Broadcast scope is per instance. Clients connected to one instance
// only see writes that instance performs; deployments running several
// instances should route admin traffic and its WebSocket to the same
// one.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/auth"
	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/services"
)

// Authenticator resolves the principal behind an upgrade request.
// Satisfied by auth.Middleware.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Principal, string, error)
}

// Config holds gateway tuning knobs.
type Config struct {
	// SendBuffer is the per-connection outbound queue length. A full
	// queue drops the message rather than blocking the broadcaster.
	SendBuffer int
	// InactiveTimeout closes connections with no inbound traffic for
	// this long.
	InactiveTimeout time.Duration
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:      32,
		InactiveTimeout: 30 * time.Minute,
		WriteTimeout:    10 * time.Second,
		ReadLimit:       64 * 1024,
	}
}

type client struct {
	id        uuid.UUID
	principal *auth.Principal
	conn      *websocket.Conn
	send      chan []byte

	mu            sync.Mutex
	subscriptions []*models.Subscription
	lastActive    time.Time
	dropped       int
	closed        bool
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *client) addSubscription(sub *models.Subscription) {
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	c.mu.Unlock()
}

func (c *client) clearSubscriptions() {
	c.mu.Lock()
	c.subscriptions = nil
	c.mu.Unlock()
}

// pruneSubscriptions removes the named selectors from every subscription
// and drops subscriptions left selecting nothing.
func (c *client) pruneSubscriptions(ids []uuid.UUID, types []models.ConfigType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.subscriptions[:0]
	for _, sub := range c.subscriptions {
		if sub.Prune(ids, types) {
			kept = append(kept, sub)
		}
	}
	c.subscriptions = kept
}

func (c *client) snapshotSubscriptions() []*models.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Subscription, len(c.subscriptions))
	copy(out, c.subscriptions)
	return out
}

// wantsEvent reports whether any of the client's subscriptions covers
// the event. A subscription pinned to a partner skips events for configs
// known to belong to a different partner.
func (c *client) wantsEvent(configType models.ConfigType, configID uuid.UUID, scope *uuid.UUID, scopeKnown bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscriptions {
		if !sub.Matches(configType, configID) {
			continue
		}
		if sub.PartnerID != nil && scopeKnown && scope != nil && *scope != *sub.PartnerID {
			continue
		}
		return true
	}
	return false
}

// Gateway fans configuration change events out to subscribed WebSocket
// connections, re-checking scope permissions per event so a partner
// never observes another partner's configuration.
type Gateway struct {
	store  services.ConfigStore
	authn  Authenticator
	config Config
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*client

	unsubscribe func()
}

// New creates a gateway serving config change notifications.
func New(store services.ConfigStore, authn Authenticator, config Config, logger *zap.Logger) *Gateway {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConfig().SendBuffer
	}
	if config.InactiveTimeout <= 0 {
		config.InactiveTimeout = DefaultConfig().InactiveTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultConfig().ReadLimit
	}
	return &Gateway{
		store:   store,
		authn:   authn,
		config:  config,
		logger:  logger.Named("config-gateway"),
		clients: make(map[uuid.UUID]*client),
	}
}

// Start subscribes the gateway to the event bus and begins the idle
// connection sweep. Blocks until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context, bus *events.Bus) {
	g.unsubscribe = bus.Subscribe(nil, func(event events.Event) {
		g.broadcast(ctx, event)
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return
		case <-ticker.C:
			g.closeInactive()
		}
	}
}

func (g *Gateway) shutdown() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}

	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[uuid.UUID]*client)
	g.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleWS upgrades the request and serves the connection until it
// closes. Registered on the mux as "GET /ws/commission-config".
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	principal, _, err := g.authn.Authenticate(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(g.config.ReadLimit)

	c := &client{
		id:         uuid.New(),
		principal:  principal,
		conn:       conn,
		send:       make(chan []byte, g.config.SendBuffer),
		lastActive: time.Now(),
	}

	g.register(c)
	defer g.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.writePump(ctx, c)

	g.logger.Info("client connected",
		zap.String("client_id", c.id.String()),
		zap.String("user_id", principal.UserID.String()),
		zap.String("role", string(principal.Role)))

	g.readLoop(ctx, c)
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	// Closing under c.mu pairs with enqueue's closed check, so a
	// broadcast racing the disconnect never writes to a closed channel.
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	g.logger.Info("client disconnected", zap.String("client_id", c.id.String()))
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// readLoop consumes client messages until the connection drops.
func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		c.touch()

		msg, err := ParseClientMessage(data)
		if err != nil {
			g.sendError(c, err.Error())
			continue
		}

		switch m := msg.(type) {
		case *SubscribeMessage:
			g.handleSubscribe(ctx, c, m)
		case *UnsubscribeMessage:
			g.handleUnsubscribe(c, m)
		case *StatusRequestMessage:
			g.handleStatusRequest(ctx, c, m)
		}
	}
}

func (g *Gateway) sendError(c *client, message string) {
	g.enqueueJSON(c, ErrorMessage{
		Type:      TypeError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (g *Gateway) handleSubscribe(ctx context.Context, c *client, msg *SubscribeMessage) {
	sub := &models.Subscription{}

	for _, raw := range msg.ConfigTypes {
		configType := models.ConfigType(raw)
		if !models.ValidConfigType(configType) {
			g.sendError(c, "unknown config type: "+raw)
			return
		}
		sub.ConfigTypes = append(sub.ConfigTypes, configType)
	}
	for _, raw := range msg.ConfigIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			g.sendError(c, "invalid config id: "+raw)
			return
		}
		sub.ConfigIDs = append(sub.ConfigIDs, id)
	}
	if msg.PartnerID != "" {
		partnerID, err := uuid.Parse(msg.PartnerID)
		if err != nil {
			g.sendError(c, "invalid partner id: "+msg.PartnerID)
			return
		}
		sub.PartnerID = &partnerID
	}

	// A request reaching beyond the caller's scope is rejected, never
	// silently narrowed.
	if err := g.authorizeSubscription(ctx, c.principal, sub); err != nil {
		g.logger.Warn("rejected subscription",
			zap.String("client_id", c.id.String()),
			zap.String("user_id", c.principal.UserID.String()),
			zap.Error(err))
		g.sendError(c, "insufficient permissions for subscription")
		return
	}
	if !c.principal.Role.IsAdmin() && sub.PartnerID == nil {
		sub.PartnerID = c.principal.PartnerID
	}

	c.addSubscription(sub)

	g.enqueueJSON(c, SubscriptionConfirmedMessage{
		Type:         TypeSubscriptionConfirmed,
		Subscription: sub,
		Timestamp:    time.Now().UTC(),
	})

	g.sendInitialData(ctx, c, sub)
}

// authorizeSubscription checks a non-admin's request against their
// partner scope. Config ids whose scope cannot be resolved are rejected
// rather than granted.
func (g *Gateway) authorizeSubscription(ctx context.Context, principal *auth.Principal, sub *models.Subscription) error {
	if principal.Role.IsAdmin() {
		return nil
	}
	if sub.PartnerID != nil && !principal.CanAccessScope(sub.PartnerID) {
		return fmt.Errorf("partner scope %s: %w", sub.PartnerID, apperrors.ErrPermissionDenied)
	}
	for _, id := range sub.ConfigIDs {
		scope, known := g.configScope(ctx, id)
		if !known || !principal.CanAccessScope(scope) {
			return fmt.Errorf("config %s: %w", id, apperrors.ErrPermissionDenied)
		}
	}
	return nil
}

// configScope resolves the partner scope of a chain without knowing its
// type, trying rate configs first.
func (g *Gateway) configScope(ctx context.Context, configID uuid.UUID) (*uuid.UUID, bool) {
	if config, err := g.store.GetRateConfig(ctx, configID); err == nil {
		return config.PartnerID, true
	}
	if config, err := g.store.GetSettings(ctx, configID); err == nil {
		return config.PartnerID, true
	}
	return nil, false
}

func (g *Gateway) handleUnsubscribe(c *client, msg *UnsubscribeMessage) {
	if len(msg.ConfigIDs) == 0 && len(msg.ConfigTypes) == 0 {
		c.clearSubscriptions()
	} else {
		var ids []uuid.UUID
		for _, raw := range msg.ConfigIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				g.sendError(c, "invalid config id: "+raw)
				return
			}
			ids = append(ids, id)
		}
		var types []models.ConfigType
		for _, raw := range msg.ConfigTypes {
			configType := models.ConfigType(raw)
			if !models.ValidConfigType(configType) {
				g.sendError(c, "unknown config type: "+raw)
				return
			}
			types = append(types, configType)
		}
		c.pruneSubscriptions(ids, types)
	}

	g.enqueueJSON(c, UnsubscriptionConfirmedMessage{
		Type:      TypeUnsubscriptionConfirmed,
		Timestamp: time.Now().UTC(),
	})
}

// sendInitialData pushes the active configurations matching a fresh
// subscription so the client renders without a follow-up REST call.
func (g *Gateway) sendInitialData(ctx context.Context, c *client, sub *models.Subscription) {
	initial := InitialConfigDataMessage{
		Type:      TypeInitialConfigData,
		Configs:   []*models.RateConfig{},
		Timestamp: time.Now().UTC(),
	}

	if sub.WantsType(models.ConfigTypeCommissionRate) {
		configs, err := g.store.ListActiveRateConfigs(ctx)
		if err != nil {
			g.logger.Error("failed to load initial rate configs", zap.Error(err))
		} else {
			for _, config := range configs {
				if !sub.WantsConfig(config.ChainRoot()) {
					continue
				}
				if !c.principal.CanAccessScope(config.PartnerID) {
					continue
				}
				if sub.PartnerID != nil && config.PartnerID != nil && *config.PartnerID != *sub.PartnerID {
					continue
				}
				initial.Configs = append(initial.Configs, config)
			}
		}
	}

	if sub.WantsType(models.ConfigTypeCommissionSettings) {
		settings, err := g.store.ListActiveSettings(ctx)
		if err != nil {
			g.logger.Error("failed to load initial settings", zap.Error(err))
		} else {
			for _, config := range settings {
				if !sub.WantsConfig(config.ChainRoot()) {
					continue
				}
				if !c.principal.CanAccessScope(config.PartnerID) {
					continue
				}
				initial.Settings = append(initial.Settings, config)
			}
		}
	}

	g.enqueueJSON(c, initial)
}

// handleStatusRequest answers a per-config status lookup, or an
// engine-wide stats snapshot for admins when no config id is named.
func (g *Gateway) handleStatusRequest(ctx context.Context, c *client, msg *StatusRequestMessage) {
	if msg.ConfigID == "" {
		if !c.principal.Role.IsAdmin() {
			g.sendStatusError(c, "", "insufficient permissions for engine status")
			return
		}
		stats, err := g.store.Stats(ctx)
		if err != nil {
			g.logger.Error("failed to collect config stats", zap.Error(err))
			g.sendStatusError(c, "", "failed to collect config status")
			return
		}
		g.enqueueJSON(c, ConfigStatusMessage{
			Type:      TypeConfigStatus,
			Stats:     stats,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	configID, err := uuid.Parse(msg.ConfigID)
	if err != nil {
		g.sendStatusError(c, msg.ConfigID, "invalid config id")
		return
	}

	config, scope, err := g.lookupConfig(ctx, configID, msg.ConfigType)
	if err != nil {
		g.sendStatusError(c, msg.ConfigID, "config not found")
		return
	}
	if !c.principal.CanAccessScope(scope) {
		g.sendStatusError(c, msg.ConfigID, "insufficient permissions for config")
		return
	}

	g.enqueueJSON(c, ConfigStatusMessage{
		Type:      TypeConfigStatus,
		ConfigID:  msg.ConfigID,
		Config:    config,
		Timestamp: time.Now().UTC(),
	})
}

func (g *Gateway) sendStatusError(c *client, configID, message string) {
	g.enqueueJSON(c, ConfigStatusErrorMessage{
		Type:      TypeConfigStatusError,
		ConfigID:  configID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// lookupConfig loads the active version of a chain, honoring the
// requested type and trying both when none was given.
func (g *Gateway) lookupConfig(ctx context.Context, configID uuid.UUID, configType string) (any, *uuid.UUID, error) {
	switch models.ConfigType(configType) {
	case models.ConfigTypeCommissionRate:
		config, err := g.store.GetRateConfig(ctx, configID)
		if err != nil {
			return nil, nil, err
		}
		return config, config.PartnerID, nil
	case models.ConfigTypeCommissionSettings:
		config, err := g.store.GetSettings(ctx, configID)
		if err != nil {
			return nil, nil, err
		}
		return config, config.PartnerID, nil
	}

	if config, err := g.store.GetRateConfig(ctx, configID); err == nil {
		return config, config.PartnerID, nil
	}
	config, err := g.store.GetSettings(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	return config, config.PartnerID, nil
}

// broadcast fans one config event out to every subscribed connection.
// Scope is re-checked per client at delivery time, not at subscribe
// time, so permission changes and scoped configs are enforced on the
// live path.
func (g *Gateway) broadcast(ctx context.Context, event events.Event) {
	g.mu.RLock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(ConfigUpdatedMessage{Type: TypeConfigUpdated, Event: event})
	if err != nil {
		g.logger.Error("failed to marshal config event", zap.Error(err))
		return
	}

	scope, scopeKnown := g.eventScope(ctx, event)

	delivered := 0
	for _, c := range clients {
		if !c.wantsEvent(event.ConfigType, event.ConfigID, scope, scopeKnown) {
			continue
		}
		if !c.principal.Role.IsAdmin() {
			// When the config's scope cannot be determined, withhold
			// rather than leak.
			if !scopeKnown || !c.principal.CanAccessScope(scope) {
				continue
			}
		}
		g.enqueue(c, data)
		delivered++
	}

	g.logger.Debug("broadcast config event",
		zap.String("type", string(event.Type)),
		zap.String("config_id", event.ConfigID.String()),
		zap.Int("delivered", delivered))
}

// eventScope resolves the partner scope of the config behind an event.
// Reads are cache-first through the store, so this stays cheap on the
// broadcast path.
func (g *Gateway) eventScope(ctx context.Context, event events.Event) (*uuid.UUID, bool) {
	switch event.ConfigType {
	case models.ConfigTypeCommissionRate:
		config, err := g.store.GetRateConfig(ctx, event.ConfigID)
		if err != nil {
			return nil, false
		}
		return config.PartnerID, true
	case models.ConfigTypeCommissionSettings:
		config, err := g.store.GetSettings(ctx, event.ConfigID)
		if err != nil {
			return nil, false
		}
		return config.PartnerID, true
	}
	return nil, false
}

func (g *Gateway) enqueueJSON(c *client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		g.logger.Error("failed to marshal gateway message", zap.Error(err))
		return
	}
	g.enqueue(c, data)
}

// enqueue hands a frame to the client's writer without blocking. A slow
// consumer loses messages instead of stalling the broadcaster; clients
// resync through the store on reconnect. Frames for a disconnected
// client are discarded.
func (g *Gateway) enqueue(c *client, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped++
		g.logger.Warn("dropping message for slow client",
			zap.String("client_id", c.id.String()),
			zap.Int("total_dropped", c.dropped))
	}
}

func (g *Gateway) writePump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, g.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				g.logger.Debug("write failed, closing client",
					zap.String("client_id", c.id.String()),
					zap.Error(err))
				c.conn.Close(websocket.StatusAbnormalClosure, "write failure")
				return
			}
		}
	}
}

// closeInactive drops connections that have sent nothing for longer
// than the inactivity window.
func (g *Gateway) closeInactive() {
	cutoff := time.Now().Add(-g.config.InactiveTimeout)

	g.mu.RLock()
	var stale []*client
	for _, c := range g.clients {
		c.mu.Lock()
		inactive := c.lastActive.Before(cutoff)
		c.mu.Unlock()
		if inactive {
			stale = append(stale, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range stale {
		g.logger.Info("closing inactive client", zap.String("client_id", c.id.String()))
		c.conn.Close(websocket.StatusGoingAway, "inactive")
	}
}
