package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

type presenceDocuments interface {
	SetPresence(ctx context.Context, id string, online bool) error
	Put(ctx context.Context, p models.Profile) error
}

type presenceMirror interface {
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
	ListOnlineIDs(ctx context.Context) ([]string, error)
	FindByID(ctx context.Context, id string) (*models.Profile, error)
}

type presenceKeys interface {
	Touch(ctx context.Context, userID string, at time.Time, ttl time.Duration) error
	Clear(ctx context.Context, userID string) error
	Alive(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// PresenceConfig controls heartbeat cadence and expiry.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	TTL               time.Duration
	WriteTimeout      time.Duration
}

// PresenceService writes online state to the profile document, its
// relational mirror and an expiring Redis key.
type PresenceService struct {
	docs   presenceDocuments
	mirror presenceMirror
	keys   presenceKeys
	cfg    PresenceConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewPresenceService constructs the service. keys may be nil, in which case
// presence never expires on its own.
func NewPresenceService(docs presenceDocuments, mirror presenceMirror, keys presenceKeys, cfg PresenceConfig, logger *zap.Logger) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.TTL < cfg.HeartbeatInterval {
		cfg.TTL = cfg.HeartbeatInterval * 5 / 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &PresenceService{docs: docs, mirror: mirror, keys: keys, cfg: cfg, logger: logger, now: time.Now}
}

// NewSession returns an unstarted session for userID.
func (s *PresenceService) NewSession(userID string) *PresenceSession {
	return &PresenceSession{svc: s, userID: userID, visible: true}
}

// write updates every presence store concurrently.
func (s *PresenceService) write(ctx context.Context, userID string, online bool) error {
	at := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.docs.SetPresence(gctx, userID, online)
		if errors.Is(err, docstore.ErrNotFound) {
			return s.rebuildDocument(gctx, userID, online, at)
		}
		return err
	})
	g.Go(func() error {
		return s.mirror.SetPresence(gctx, userID, online, at)
	})
	if s.keys != nil {
		g.Go(func() error {
			if online {
				return s.keys.Touch(gctx, userID, at, s.cfg.TTL)
			}
			return s.keys.Clear(gctx, userID)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("presence write failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
		return err
	}
	return nil
}

// rebuildDocument restores a profile document that was never seeded, using
// the relational row.
func (s *PresenceService) rebuildDocument(ctx context.Context, userID string, online bool, at time.Time) error {
	row, err := s.mirror.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("rebuild profile document %s: %w", userID, err)
	}
	row.IsOnline = online
	row.LastSeen = at
	if err := s.docs.Put(ctx, *row); err != nil {
		return err
	}
	s.logger.Info("profile document rebuilt", zap.String("user_id", userID))
	return nil
}

// Sweep marks offline every profile the mirror reports online whose Redis
// key has expired. It returns how many profiles were changed.
func (s *PresenceService) Sweep(ctx context.Context) (int, error) {
	if s.keys == nil {
		return 0, nil
	}
	online, err := s.mirror.ListOnlineIDs(ctx)
	if err != nil || len(online) == 0 {
		return 0, err
	}
	alive, err := s.keys.Alive(ctx, online)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range online {
		if alive[id] {
			continue
		}
		if err := s.write(ctx, id, false); err != nil {
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Info("stale presence swept", zap.Int("profiles", swept))
	}
	return swept, nil
}

// PresenceSession is the presence of one connection. It is started once and
// stopped once; the heartbeat re-asserts online state only while visible.
type PresenceSession struct {
	svc    *PresenceService
	userID string

	mu      sync.Mutex
	visible bool
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// Start marks the user online and starts the heartbeat.
func (p *PresenceSession) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.heartbeat()
	return p.svc.write(ctx, p.userID, true)
}

// SetVisible records a page visibility change.
func (p *PresenceSession) SetVisible(ctx context.Context, visible bool) error {
	p.mu.Lock()
	if !p.started || p.stopped || p.visible == visible {
		p.mu.Unlock()
		return nil
	}
	p.visible = visible
	p.mu.Unlock()
	return p.svc.write(ctx, p.userID, visible)
}

// Stop ends the heartbeat and marks the user offline.
func (p *PresenceSession) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()

	<-p.done
	return p.svc.write(ctx, p.userID, false)
}

func (p *PresenceSession) heartbeat() {
	defer close(p.done)
	ticker := time.NewTicker(p.svc.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			visible := p.visible
			p.mu.Unlock()
			if !visible {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.svc.cfg.WriteTimeout)
			_ = p.svc.write(ctx, p.userID, true)
			cancel()
		}
	}
}
