// Package session provides the top-level facade over the memory layer.
// One Session corresponds to one conversational session: it wires the
// episode manager, ingestion and recall pipelines, and the reflection
// runner over a shared store, and serializes all public operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/log"
	"github.com/deepnoodle-ai/engram/memory"
	"github.com/deepnoodle-ai/engram/providers"
	"github.com/deepnoodle-ai/engram/storage"
)

var (
	// ErrNotInitialized is returned when a session method is called
	// before Initialize.
	ErrNotInitialized = errors.New("session not initialized: call Initialize first")

	// ErrClosed is returned when a session method is called after Close.
	ErrClosed = errors.New("session is closed")
)

// CloseReasonSession marks episodes closed as part of session shutdown.
const CloseReasonSession = "session_close"

// Options configures a Session. Every field has a usable default except
// that a zero SessionID causes a fresh ID to be generated.
type Options struct {
	// SessionID identifies the session. Generated when empty.
	SessionID string

	// Store persists turns, episodes, facts, and embeddings. Defaults to
	// an in-memory store. When Config.Cache is enabled the store is
	// wrapped with an LRU read cache.
	Store engram.Store

	// Embedder produces vectors for turns, facts, and recall queries.
	// Defaults to the null embedder (vector search disabled).
	Embedder engram.Embedder

	// Reflector extracts facts from closed episodes. Defaults to the
	// null reflector (no facts are ever produced).
	Reflector engram.Reflector

	// TokenCounter measures content for budgeting. Defaults to the
	// heuristic counter.
	TokenCounter engram.TokenCounter

	// Config holds tuning knobs. Defaults to DefaultConfig.
	Config *engram.Config

	// Logger receives structured diagnostics. Defaults to a null logger.
	Logger log.Logger

	// BackgroundReflection runs reflection asynchronously when episodes
	// close instead of blocking the closing call.
	BackgroundReflection bool

	// ReflectionTrace, when set, receives a trace for every reflection
	// run over this session's episodes.
	ReflectionTrace memory.TraceCallback
}

// Session is the facade over a single session's memory. All methods are
// safe for concurrent use; operations on the same Session are serialized
// by an internal mutex.
type Session struct {
	id        string
	store     engram.Store
	embedder  engram.Embedder
	reflector engram.Reflector
	counter   engram.TokenCounter
	config    *engram.Config
	logger    log.Logger

	backgroundReflection bool
	traceCallback        memory.TraceCallback

	mu          sync.Mutex
	initialized bool
	closed      bool
	episodes    *memory.EpisodeManager
	ingestion   *memory.IngestionPipeline
	recall      *memory.RecallPipeline
	reflection  *memory.ReflectionRunner
}

// New creates a Session from the given options. The session must be
// initialized before use.
func New(opts Options) (*Session, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = engram.NewSessionID()
	}
	sessionID, err := engram.ValidateSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	config := opts.Config
	if config == nil {
		config = engram.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = storage.NewInMemoryStore()
	}
	store = storage.NewCachedStore(store, config.Cache)

	embedder := opts.Embedder
	if embedder == nil {
		embedder = providers.NewNullEmbedder(0)
	}
	reflector := opts.Reflector
	if reflector == nil {
		reflector = &providers.NullReflector{}
	}
	counter := opts.TokenCounter
	if counter == nil {
		counter = engram.NewHeuristicTokenCounter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}

	return &Session{
		id:                   sessionID,
		store:                store,
		embedder:             embedder,
		reflector:            reflector,
		counter:              counter,
		config:               config,
		logger:               logger,
		backgroundReflection: opts.BackgroundReflection,
		traceCallback:        opts.ReflectionTrace,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// IsInitialized reports whether Initialize has completed.
func (s *Session) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// CurrentEpisodeID returns the open episode's ID, or "" when no episode
// is open or the session is not initialized.
func (s *Session) CurrentEpisodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.episodes == nil {
		return ""
	}
	return s.episodes.CurrentEpisodeID()
}

// Initialize prepares storage and wires the memory components. It is
// idempotent and must be called before any other operation.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}

	if err := s.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	s.reflection = memory.NewReflectionRunner(
		s.id, s.store, s.reflector, s.embedder, s.counter, s.config, s.logger)
	if s.traceCallback != nil {
		s.reflection.SetTraceCallback(s.traceCallback)
	}

	s.episodes = memory.NewEpisodeManager(s.id, s.store, s.config, s.logger)
	s.episodes.SetOnEpisodeClosed(s.onEpisodeClosed)
	if err := s.episodes.Initialize(ctx); err != nil {
		return err
	}

	s.ingestion = memory.NewIngestionPipeline(
		s.id, s.store, s.embedder, s.counter, s.episodes, s.config, s.logger)
	if err := s.ingestion.Initialize(ctx); err != nil {
		return err
	}

	s.recall = memory.NewRecallPipeline(
		s.id, s.store, s.embedder, s.counter, s.episodes, s.config, s.logger)

	s.initialized = true
	return nil
}

// onEpisodeClosed feeds every closed episode to the reflection runner.
// Reflection failures are logged, never propagated: closing an episode
// must succeed even when fact extraction does not.
func (s *Session) onEpisodeClosed(ctx context.Context, episodeID string) {
	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		s.logger.Error("failed to load closed episode for reflection",
			"episode_id", episodeID, "error", err)
		return
	}
	turns, err := s.store.GetTurnsByEpisode(ctx, episodeID)
	if err != nil {
		s.logger.Error("failed to load episode turns for reflection",
			"episode_id", episodeID, "error", err)
		return
	}
	if _, err := s.reflection.ReflectEpisode(ctx, episode, turns, s.backgroundReflection); err != nil {
		s.logger.Error("reflection failed",
			"episode_id", episodeID, "error", err)
	}
}

func (s *Session) ensureReady() error {
	if s.closed {
		return ErrClosed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Ingest records a turn into memory: it validates the request, assigns
// the turn to an episode (possibly closing the previous one), embeds the
// content, and persists everything. Returns the stored turn.
func (s *Session) Ingest(ctx context.Context, req memory.IngestRequest) (*engram.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.ingestion.Ingest(ctx, req)
}

// Recall assembles a token-budgeted, chronologically ordered context for
// the query from the current episode, marked turns, facts, and vector
// search over past turns.
func (s *Session) Recall(ctx context.Context, req memory.RecallRequest) ([]engram.ContextItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.recall.Recall(ctx, req)
}

// CloseEpisode closes the open episode, triggering reflection. An empty
// reason defaults to "manual". Returns the closed episode's ID, or ""
// when no episode was open.
func (s *Session) CloseEpisode(ctx context.Context, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	if reason == "" {
		reason = "manual"
	}
	return s.episodes.CloseCurrentEpisode(ctx, reason)
}

// GetSessionStats returns aggregate counters for the session.
func (s *Session) GetSessionStats(ctx context.Context) (*engram.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.store.GetSessionStats(ctx, s.id)
}

// WaitForReflection blocks until all background reflections scheduled so
// far have finished. It is a no-op when reflection runs synchronously.
func (s *Session) WaitForReflection() {
	s.mu.Lock()
	runner := s.reflection
	s.mu.Unlock()
	if runner != nil {
		runner.WaitPending()
	}
}

// CancelReflection cancels in-flight background reflections. The session
// remains usable; reflections scheduled afterwards run normally.
func (s *Session) CancelReflection() {
	s.mu.Lock()
	runner := s.reflection
	s.mu.Unlock()
	if runner != nil {
		runner.CancelPending()
	}
}

// Close shuts the session down: it closes the open episode (reason
// "session_close", triggering a final reflection), flushes the
// carry-forward buffer, waits for background reflections, and closes
// storage. Close is idempotent and best-effort: it returns the first
// error encountered but completes every step regardless.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.initialized {
		return nil
	}

	var firstErr error
	if _, err := s.episodes.CloseCurrentEpisode(ctx, CloseReasonSession); err != nil {
		s.logger.Error("failed to close episode during shutdown", "error", err)
		firstErr = err
	}

	s.flushCarried(ctx)
	s.reflection.WaitPending()

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close storage", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushCarried forces a final reflection over any turns still buffered
// below the minimum episode size, attributing them to the most recently
// closed episode.
func (s *Session) flushCarried(ctx context.Context) {
	if s.reflection.CarriedTurnCount() == 0 {
		return
	}
	episodes, err := s.store.GetEpisodes(ctx, s.id, 0, engram.EpisodeClosed)
	if err != nil {
		s.logger.Error("failed to load episodes for final flush", "error", err)
		return
	}
	if len(episodes) == 0 {
		return
	}
	s.reflection.Flush(ctx, episodes[len(episodes)-1])
}
