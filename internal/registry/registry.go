// Package registry implements the Session Registry: admission control,
// lookup, teardown, and a background reaper that sweeps idle sessions on a
// two-tier timeout.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/tracing"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

// ErrSessionLimitExceeded is returned by Create when the registry is at
// capacity.
var ErrSessionLimitExceeded = errors.New("registry: session limit exceeded")

// ErrSessionNotFound is returned by Get for unknown ids; Close reports an
// unknown id by returning false instead.
var ErrSessionNotFound = errors.New("registry: session not found")

// Config controls admission limits and reaper timing.
type Config struct {
	MaxSessions                  int
	IdleTimeoutSeconds           float64
	InitialSpeechTimeoutSeconds  float64
	CleanupIntervalSeconds       float64
}

// AggregateMetrics summarizes counters across every tracked session.
type AggregateMetrics struct {
	ActiveSessions       int     `json:"active_sessions"`
	TotalSessions        int     `json:"total_sessions"`
	TotalAudioBytes      int64   `json:"total_audio_bytes"`
	TotalAudioDurationMs float64 `json:"total_audio_duration_ms"`
	TotalChunks          int64   `json:"total_chunks"`
	TotalTranscripts     int64   `json:"total_transcripts"`
	TotalPartials        int64   `json:"total_partials"`
	TotalFinals          int64   `json:"total_finals"`
	TotalErrors          int64   `json:"total_errors"`
}

// Registry is the process-scoped session map, the single lock protecting it
// and active_count, and the one background reaper.
type Registry struct {
	models    *asr.Models
	predicate vad.Predicate
	sessCfg   session.Config
	config    Config
	log       *logger.ContextLogger

	mu         sync.Mutex
	sessions   map[string]*session.TranscriptionSession
	sweepCount int64

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Registry. predicate and sessCfg are passed through to
// every session created.
func New(models *asr.Models, predicate vad.Predicate, sessCfg session.Config, config Config, log *logger.ContextLogger) *Registry {
	return &Registry{
		models:    models,
		predicate: predicate,
		sessCfg:   sessCfg,
		config:    config,
		log:       log,
		sessions:  make(map[string]*session.TranscriptionSession),
	}
}

// Start spawns the background reaper. Calling Start twice is a programmer
// error; the registry does not guard against it since it is only ever
// called once from server startup.
func (r *Registry) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = group
	group.Go(func() error {
		r.reapLoop(gctx)
		return nil
	})
}

// Stop cancels the reaper, awaits its exit, then closes every remaining
// session and clears the map. Idempotent.
func (r *Registry) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.group != nil {
		if err := r.group.Wait(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	sessions := make([]*session.TranscriptionSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.TranscriptionSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

// Create atomically checks the active-session cap and inserts a new session,
// or fails with ErrSessionLimitExceeded.
func (r *Registry) Create() (*session.TranscriptionSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCountLocked() >= r.config.MaxSessions {
		return nil, ErrSessionLimitExceeded
	}

	s, err := session.New(r.models, r.predicate, r.sessCfg)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create session: %w", err)
	}
	r.sessions[s.ID()] = s
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*session.TranscriptionSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and removes a session by id, reporting whether it was found.
// The session's own Close() runs with the registry lock released, so it
// never blocks an in-flight ProcessChunk against this lock.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	return true
}

// ActiveCount returns the number of sessions in Created or Active state.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCountLocked()
}

func (r *Registry) activeCountLocked() int {
	count := 0
	for _, s := range r.sessions {
		switch s.State() {
		case session.Created, session.Active:
			count++
		}
	}
	return count
}

// AllSessions returns an Info snapshot for every tracked session.
func (r *Registry) AllSessions() []session.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]session.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.GetInfo())
	}
	return infos
}

// AggregateMetrics sums counters across every tracked session.
func (r *Registry) AggregateMetrics() AggregateMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := AggregateMetrics{
		ActiveSessions: r.activeCountLocked(),
		TotalSessions:  len(r.sessions),
	}
	for _, s := range r.sessions {
		m := s.GetInfo().Metrics
		agg.TotalAudioBytes += m.AudioBytesReceived
		agg.TotalChunks += m.AudioChunksReceived
		agg.TotalTranscripts += m.TranscriptsSent
		agg.TotalPartials += m.PartialsSent
		agg.TotalFinals += m.FinalsSent
		agg.TotalErrors += m.ErrorsSent
	}
	agg.TotalAudioDurationMs = float64(agg.TotalAudioBytes) / 32.0
	return agg
}

// ReaperSweeps returns the cumulative number of sweep passes the reaper has
// run since the registry started.
func (r *Registry) ReaperSweeps() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepCount
}

func (r *Registry) reapLoop(ctx context.Context) {
	interval := time.Duration(r.config.CleanupIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep identifies sessions to close under the lock, then closes them
// outside it to avoid deadlocking against an in-flight ProcessChunk.
func (r *Registry) sweep() {
	_, span := tracing.StartSpan(context.Background(), "registry.sweep")
	defer span.End()

	now := time.Now().UTC()
	initialTimeout := time.Duration(r.config.InitialSpeechTimeoutSeconds * float64(time.Second))
	idleTimeout := time.Duration(r.config.IdleTimeoutSeconds * float64(time.Second))

	r.mu.Lock()
	r.sweepCount++
	var toClose []string
	for id, s := range r.sessions {
		info := s.GetInfo()
		switch info.State {
		case session.Closed:
			toClose = append(toClose, id)
		case session.Created:
			if now.Sub(info.LastActivityAt) > initialTimeout {
				toClose = append(toClose, id)
			}
		case session.Active:
			if now.Sub(info.LastActivityAt) > idleTimeout {
				toClose = append(toClose, id)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range toClose {
		r.Close(id)
	}
	if len(toClose) > 0 && r.log != nil {
		r.log.Info("reaper closed %d sessions", len(toClose))
	}
}
