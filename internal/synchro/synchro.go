// Package synchro is the cross-process cache-invalidation bus: a thin NATS
// wrapper that lets every API process tell every other API process which
// per-user cache slots just went stale.
//
// Every mutation that touches a user's streams, accesses, or profile
// publishes one Message describing what to drop. Each process subscribes
// lazily, on "cache.<userId>", the first time it caches anything for that
// user, and drops the subscription again once that user's whole cache slot
// is unset. A distinguished "cache.unset-user" subject carries the two
// whole-user actions so every process can tear its listener down even
// without having that subscription open yet.
//
// Messages carry the publishing process's instance id so a process can tell
// its own invalidation apart from one that arrived over the wire: the Cache
// already applied the change locally before publishing, so reprocessing the
// echo would be redundant at best.
package synchro

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/corestream/datacore/internal/logger"
)

// Action is one of the four invalidation kinds the Cache component emits.
type Action string

const (
	UnsetStreams     Action = "UNSET_STREAMS"
	UnsetAccessLogic Action = "UNSET_ACCESS_LOGIC"
	UnsetUserData    Action = "UNSET_USER_DATA"
	UnsetUser        Action = "UNSET_USER"
)

// unsetUserSubject is the distinguished subject for the two whole-user
// actions, heard by every process regardless of which users it currently
// has listeners open for.
const unsetUserSubject = "cache.unset-user"

// Message is the wire payload published on a cache invalidation.
type Message struct {
	Action      Action `json:"action"`
	UserID      string `json:"userId"`
	AccessID    string `json:"accessId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Origin      string `json:"origin"`
}

func subjectForUser(userID string) string {
	return fmt.Sprintf("cache.%s", userID)
}

// Config holds NATS connection settings. An empty URL disables Synchro:
// cache invalidation then stays local to this process rather than failing
// startup over an optional message broker.
type Config struct {
	URL      string
	User     string
	Password string
}

// Handler is invoked for every externally-originated Message this process
// receives, so the Cache can drop the matching local slot.
type Handler func(Message)

// Synchro is the per-process NATS client backing cross-process cache
// invalidation.
type Synchro struct {
	conn       *nats.Conn
	enabled    bool
	instanceID string
	handler    Handler

	mu        sync.Mutex
	listeners map[string]*nats.Subscription // userID -> subscription on cache.<userId>
	unsetSub  *nats.Subscription
}

// New creates a Synchro client. If cfg.URL is empty or the broker is
// unreachable, it returns a disabled instance rather than an error: cache
// invalidation then degrades to single-process-only, which is always
// correct, just not cross-process.
func New(cfg Config, handler Handler) (*Synchro, error) {
	log := logger.Synchro()

	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, cross-process cache invalidation disabled")
		return &Synchro{enabled: false, handler: handler}, nil
	}

	instanceID := uuid.NewString()

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("datacore-synchro-%s", instanceID)),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("synchro disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("synchro reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("synchro NATS error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to NATS, cross-process cache invalidation disabled")
		return &Synchro{enabled: false, handler: handler}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("synchro connected to NATS")

	return &Synchro{
		conn:       conn,
		enabled:    true,
		instanceID: instanceID,
		handler:    handler,
		listeners:  make(map[string]*nats.Subscription),
	}, nil
}

// IsEnabled reports whether this Synchro actually has a live NATS connection.
func (s *Synchro) IsEnabled() bool {
	return s.enabled
}

// Start subscribes to the whole-user subject and blocks until ctx is done.
// Per-user subjects are subscribed to lazily via EnsureListening.
func (s *Synchro) Start(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	sub, err := s.conn.Subscribe(unsetUserSubject, s.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", unsetUserSubject, err)
	}
	s.unsetSub = sub
	logger.Synchro().Info().Str("subject", unsetUserSubject).Msg("synchro subscribed")

	<-ctx.Done()
	return nil
}

// EnsureListening opens this process's subscription to a user's cache
// subject, if it doesn't already have one. The Cache calls this the first
// time it caches anything for that user.
func (s *Synchro) EnsureListening(userID string) error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[userID]; ok {
		return nil
	}

	subject := subjectForUser(userID)
	sub, err := s.conn.Subscribe(subject, s.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.listeners[userID] = sub
	return nil
}

// StopListening tears down this process's subscription to a user's cache
// subject. The Cache calls this on UNSET_USER_DATA/UNSET_USER, since there's
// nothing left in that user's slot worth invalidating.
func (s *Synchro) StopListening(userID string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.listeners[userID]; ok {
		_ = sub.Unsubscribe()
		delete(s.listeners, userID)
	}
}

// Publish broadcasts a cache invalidation. The caller is expected to have
// already applied the same invalidation to its own in-process cache before
// calling Publish, to preserve read-your-writes for the originating request.
func (s *Synchro) Publish(ctx context.Context, msg Message) error {
	if !s.enabled {
		return nil
	}

	msg.Origin = s.instanceID
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal synchro message: %w", err)
	}

	subject := subjectForUser(msg.UserID)
	if msg.Action == UnsetUserData || msg.Action == UnsetUser {
		subject = unsetUserSubject
	}

	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (s *Synchro) onMessage(natsMsg *nats.Msg) {
	var msg Message
	if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
		logger.Synchro().Warn().Err(err).Msg("failed to decode synchro message")
		return
	}

	// Internal emissions: this process already applied the invalidation
	// locally before publishing, so reprocessing it here would be wasted
	// work at best and a spurious double-clear at worst.
	if msg.Origin == s.instanceID {
		return
	}

	if (msg.Action == UnsetUserData || msg.Action == UnsetUser) && msg.UserID != "" {
		s.StopListening(msg.UserID)
	}

	if s.handler != nil {
		s.handler(msg)
	}
}

// Close unsubscribes from every open subject, drains, and closes the
// connection.
func (s *Synchro) Close() {
	if !s.enabled || s.conn == nil {
		return
	}

	s.mu.Lock()
	for userID, sub := range s.listeners {
		_ = sub.Unsubscribe()
		delete(s.listeners, userID)
	}
	s.mu.Unlock()

	if s.unsetSub != nil {
		_ = s.unsetSub.Unsubscribe()
	}
	_ = s.conn.Drain()
	s.conn.Close()
}
