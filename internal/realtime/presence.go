package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord is one user's ephemeral presence state. Each client owns and
// publishes only its own record; everyone else's are a read-only cache.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// PresenceConfig tunes the presence engine. Tests shrink the intervals; the
// defaults match production behavior.
type PresenceConfig struct {
	// HeartbeatInterval is how often the engine re-tracks its own record.
	HeartbeatInterval time.Duration

	// OfflineThreshold is the staleness bound: a record older than this is
	// effectively offline no matter what its status field says. Self-healing
	// against ungraceful disconnects, which fire no leave event.
	OfflineThreshold time.Duration

	// TrackDebounce collapses heartbeat publishes that land right after a
	// status-change publish.
	TrackDebounce time.Duration

	Retry retry.Policy

	// OnChange, if set, fires after the cache or own status changes.
	OnChange func()
}

func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		HeartbeatInterval: 5 * time.Second,
		OfflineThreshold:  10 * time.Second,
		TrackDebounce:     100 * time.Millisecond,
		Retry:             retry.DefaultPolicy(),
	}
}

// Presence maintains this client's own status and a cache of everyone
// else's, reconciled from sync/join/leave events on the shared presence
// channel.
type Presence struct {
	transport Transport
	cfg       PresenceConfig
	log       zerolog.Logger

	mu          sync.Mutex
	ch          Channel
	selfID      string
	displayName string
	selfStatus  PresenceStatus
	lastTrack   time.Time
	cache       map[string]PresenceRecord
	cancel      context.CancelFunc
}

func NewPresence(transport Transport, cfg PresenceConfig) *Presence {
	return &Presence{
		transport:  transport,
		cfg:        cfg,
		log:        logger.With("presence"),
		selfStatus: StatusOffline,
		cache:      make(map[string]PresenceRecord),
	}
}

// Connect joins the presence channel, tracks an initial online record and
// starts the heartbeat. Transport failures are absorbed: the engine falls
// back to offline and the caller's sign-in proceeds regardless.
func (p *Presence) Connect(ctx context.Context, selfID, displayName string) {
	// Tear down any previous connection so listeners never double up.
	p.Close(ctx)

	p.mu.Lock()
	p.selfID = selfID
	p.displayName = displayName
	ch := p.transport.Channel(presenceChannelName)
	p.ch = ch
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	err := p.cfg.Retry.Do(ctx, "presence subscribe", func(ctx context.Context) error {
		return ch.Subscribe(ctx)
	})
	if err != nil {
		p.log.Error().Err(err).Msg("Presence subscribe failed, staying offline")
		p.setStatus(StatusOffline)
		return
	}

	p.setStatus(StatusOnline)
	if err := p.trackSelf(ctx, false); err != nil {
		p.log.Error().Err(err).Msg("Initial presence track failed")
		p.setStatus(StatusOffline)
	}

	go p.receive(ch)
	go p.heartbeat(runCtx)
}

// UpdateStatus re-publishes the caller's record immediately with the new
// status and a fresh last_seen. Used to flip busy during a call and back.
func (p *Presence) UpdateStatus(ctx context.Context, status PresenceStatus) {
	p.setStatus(status)
	if err := p.trackSelf(ctx, false); err != nil {
		p.log.Error().Err(err).Str("status", string(status)).Msg("Status update track failed")
	}
}

// Status returns the caller's own status for an empty id, otherwise the
// effective status of userID: absent or stale records read as offline.
func (p *Presence) Status(userID string) PresenceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if userID == "" || userID == p.selfID {
		return p.selfStatus
	}

	rec, ok := p.cache[userID]
	if !ok {
		return StatusOffline
	}
	if time.Since(rec.LastSeen) > p.cfg.OfflineThreshold {
		return StatusOffline
	}
	return rec.Status
}

// Snapshot returns the current effective records, stale entries excluded.
func (p *Presence) Snapshot() []PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PresenceRecord, 0, len(p.cache))
	for _, rec := range p.cache {
		if time.Since(rec.LastSeen) <= p.cfg.OfflineThreshold {
			out = append(out, rec)
		}
	}
	return out
}

// Close untracks and unsubscribes. Idempotent, and never fails: presence
// cleanup must not be able to block sign-out.
func (p *Presence) Close(ctx context.Context) {
	p.mu.Lock()
	ch := p.ch
	cancel := p.cancel
	p.ch = nil
	p.cancel = nil
	p.selfStatus = StatusOffline
	p.cache = make(map[string]PresenceRecord)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch == nil {
		return
	}
	if err := ch.Untrack(ctx); err != nil {
		p.log.Warn().Err(err).Msg("Presence untrack failed during cleanup")
	}
	if err := ch.Unsubscribe(); err != nil {
		p.log.Warn().Err(err).Msg("Presence unsubscribe failed during cleanup")
	}
}

func (p *Presence) setStatus(status PresenceStatus) {
	p.mu.Lock()
	p.selfStatus = status
	p.mu.Unlock()
	p.changed()
}

func (p *Presence) changed() {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange()
	}
}

// trackSelf publishes the caller's record. When debounced, publishes landing
// within TrackDebounce of the previous one are skipped so a heartbeat tick
// does not pile onto a just-sent status change.
func (p *Presence) trackSelf(ctx context.Context, debounced bool) error {
	p.mu.Lock()
	ch := p.ch
	if ch == nil {
		p.mu.Unlock()
		return nil
	}
	if debounced && time.Since(p.lastTrack) < p.cfg.TrackDebounce {
		p.mu.Unlock()
		return nil
	}
	status := p.selfStatus
	if status == StatusOffline {
		status = StatusOnline
	}
	meta := Meta{
		MetaUserID:   p.selfID,
		MetaStatus:   string(status),
		MetaLastSeen: time.Now().Format(time.RFC3339Nano),
		MetaName:     p.displayName,
	}
	p.lastTrack = time.Now()
	p.mu.Unlock()

	return ch.Track(ctx, meta)
}

func (p *Presence) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed tick is skipped, not fatal; the next one retries.
			if err := p.trackSelf(ctx, true); err != nil {
				p.log.Warn().Err(err).Msg("Heartbeat track failed")
			}
		}
	}
}

func (p *Presence) receive(ch Channel) {
	for ev := range ch.Events() {
		switch ev.Kind {
		case PresenceSync:
			p.applySync(ev.State)
		case PresenceJoin:
			p.applyJoin(ev.Meta)
		case PresenceLeave:
			p.applyLeave(ev.Meta)
		}
	}
}

// applySync rebuilds the whole cache from the transport snapshot. Stale
// records are dropped here, at write time, so the cache cannot grow ghosts;
// Status re-checks staleness at read time for records that age in place.
func (p *Presence) applySync(state map[string][]Meta) {
	now := time.Now()
	fresh := make(map[string]PresenceRecord)
	for _, metas := range state {
		if len(metas) == 0 {
			continue
		}
		rec := recordFromMeta(metas[0])
		if rec.UserID == "" {
			continue
		}
		if now.Sub(rec.LastSeen) > p.cfg.OfflineThreshold {
			continue
		}
		fresh[rec.UserID] = rec
	}

	p.mu.Lock()
	p.cache = fresh
	p.mu.Unlock()
	p.changed()
}

func (p *Presence) applyJoin(meta Meta) {
	rec := recordFromMeta(meta)
	if rec.UserID == "" {
		return
	}
	p.mu.Lock()
	p.cache[rec.UserID] = rec
	p.mu.Unlock()
	p.changed()
}

func (p *Presence) applyLeave(meta Meta) {
	userID := meta[MetaUserID]
	if userID == "" {
		return
	}
	p.mu.Lock()
	delete(p.cache, userID)
	p.mu.Unlock()
	p.changed()
}

func recordFromMeta(m Meta) PresenceRecord {
	status := PresenceStatus(m[MetaStatus])
	switch status {
	case StatusOnline, StatusBusy, StatusOffline:
	default:
		status = StatusOnline
	}
	return PresenceRecord{
		UserID:   m[MetaUserID],
		Status:   status,
		LastSeen: parseLastSeen(m),
	}
}
