package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/deepnoodle-ai/engram"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	episode_id   TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	actor_id     TEXT NOT NULL DEFAULT '',
	markers      TEXT NOT NULL DEFAULT '[]',
	token_count  INTEGER NOT NULL DEFAULT 0,
	embedding_id TEXT NOT NULL DEFAULT '',
	position     INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, position);
CREATE INDEX IF NOT EXISTS idx_turns_episode ON turns(episode_id);

CREATE TABLE IF NOT EXISTS episodes (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	closed_at    TEXT,
	close_reason TEXT NOT NULL DEFAULT '',
	turn_count   INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	markers      TEXT NOT NULL DEFAULT '[]',
	summary      TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(session_id, status);

CREATE TABLE IF NOT EXISTS facts (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	episode_id    TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	fact_type     TEXT NOT NULL DEFAULT 'decision',
	confidence    REAL NOT NULL DEFAULT 0,
	embedding_id  TEXT NOT NULL DEFAULT '',
	token_count   INTEGER NOT NULL DEFAULT 0,
	superseded_by TEXT NOT NULL DEFAULT '',
	supersedes    TEXT NOT NULL DEFAULT '[]',
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_facts_session ON facts(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_facts_episode ON facts(episode_id);
CREATE INDEX IF NOT EXISTS idx_facts_active ON facts(session_id, superseded_by);

CREATE TABLE IF NOT EXISTS embeddings (
	id       TEXT PRIMARY KEY,
	vector   TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
`

// SQLiteStore persists memory in a SQLite database using the pure-Go
// modernc.org/sqlite driver. Embedding vectors are stored as JSON arrays and
// vector search is a brute-force cosine scan, which is adequate for the
// session-scoped workloads this store targets.
type SQLiteStore struct {
	db   *sql.DB
	path string

	initOnce sync.Once
	initErr  error
}

var _ engram.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store backed by the database file at path. Use
// ":memory:" for an in-process database. The schema is created on
// Initialize.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, &engram.ConfigurationError{Message: "sqlite store requires a database path"}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, engram.NewStorageError("open", err)
	}
	// modernc's driver serializes writes per connection; a single connection
	// avoids SQLITE_BUSY between concurrent readers and writers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, path: path}, nil
}

// Initialize creates the schema if it does not already exist. It is safe to
// call more than once.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
			s.initErr = engram.NewStorageError("initialize", err)
		}
	})
	return s.initErr
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return engram.NewStorageError("close", err)
	}
	return nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *engram.Turn) error {
	markers, err := marshalJSON(turn.Markers, "[]")
	if err != nil {
		return engram.NewStorageError("save_turn", err)
	}
	metadata, err := marshalJSON(turn.Metadata, "{}")
	if err != nil {
		return engram.NewStorageError("save_turn", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turns
		(id, session_id, episode_id, role, content, created_at, actor_id, markers, token_count, embedding_id, position, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.EpisodeID, string(turn.Role), turn.Content,
		formatTime(turn.CreatedAt), turn.ActorID, markers, turn.TokenCount,
		turn.EmbeddingID, turn.Position, metadata)
	if err != nil {
		return engram.NewStorageError("save_turn", err)
	}
	return nil
}

func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*engram.Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, turnID)
	turn, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, &engram.TurnNotFoundError{TurnID: turnID}
	}
	if err != nil {
		return nil, engram.NewStorageError("get_turn", err)
	}
	return turn, nil
}

func (s *SQLiteStore) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*engram.Turn, error) {
	return s.queryTurns(ctx, "get_turns_by_episode",
		`SELECT `+turnColumns+` FROM turns WHERE episode_id = ? ORDER BY position ASC`, episodeID)
}

func (s *SQLiteStore) GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*engram.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE session_id = ? ORDER BY created_at ASC, position ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTurns(ctx, "get_turns_by_session", query, args...)
}

func (s *SQLiteStore) GetMarkedTurns(ctx context.Context, sessionID, excludeEpisodeID string) ([]*engram.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE session_id = ? AND markers != '[]'`
	args := []any{sessionID}
	if excludeEpisodeID != "" {
		query += ` AND episode_id != ?`
		args = append(args, excludeEpisodeID)
	}
	query += ` ORDER BY created_at ASC, position ASC`
	return s.queryTurns(ctx, "get_marked_turns", query, args...)
}

func (s *SQLiteStore) SaveEpisode(ctx context.Context, episode *engram.Episode) error {
	return s.writeEpisode(ctx, "save_episode", episode)
}

func (s *SQLiteStore) UpdateEpisode(ctx context.Context, episode *engram.Episode) error {
	return s.writeEpisode(ctx, "update_episode", episode)
}

func (s *SQLiteStore) writeEpisode(ctx context.Context, op string, episode *engram.Episode) error {
	markers, err := marshalJSON(episode.Markers, "[]")
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	metadata, err := marshalJSON(episode.Metadata, "{}")
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	var closedAt any
	if episode.ClosedAt != nil {
		closedAt = formatTime(*episode.ClosedAt)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes
		(id, session_id, status, created_at, closed_at, close_reason, turn_count, total_tokens, markers, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.ID, episode.SessionID, string(episode.Status), formatTime(episode.CreatedAt),
		closedAt, episode.CloseReason, episode.TurnCount, episode.TotalTokens,
		markers, episode.Summary, metadata)
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	return nil
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, episodeID string) (*engram.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, episodeID)
	episode, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, &engram.EpisodeNotFoundError{EpisodeID: episodeID}
	}
	if err != nil {
		return nil, engram.NewStorageError("get_episode", err)
	}
	return episode, nil
}

func (s *SQLiteStore) GetEpisodes(ctx context.Context, sessionID string, limit int, status engram.EpisodeStatus) ([]*engram.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engram.NewStorageError("get_episodes", err)
	}
	defer rows.Close()
	var episodes []*engram.Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, engram.NewStorageError("get_episodes", err)
		}
		episodes = append(episodes, episode)
	}
	if err := rows.Err(); err != nil {
		return nil, engram.NewStorageError("get_episodes", err)
	}
	return episodes, nil
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error {
	vec, err := json.Marshal(vector)
	if err != nil {
		return engram.NewStorageError("save_embedding", err)
	}
	meta, err := marshalJSON(metadata, "{}")
	if err != nil {
		return engram.NewStorageError("save_embedding", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (id, vector, metadata) VALUES (?, ?, ?)`,
		id, string(vec), meta)
	if err != nil {
		return engram.NewStorageError("save_embedding", err)
	}
	return nil
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string) ([]float64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engram.NewStorageError("get_embedding", err)
	}
	var vector []float64
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		return nil, engram.NewStorageError("get_embedding", err)
	}
	return vector, nil
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]engram.VectorSearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, metadata FROM embeddings`)
	if err != nil {
		return nil, engram.NewStorageError("vector_search", err)
	}
	defer rows.Close()

	var results []engram.VectorSearchResult
	for rows.Next() {
		var id, rawVec, rawMeta string
		if err := rows.Scan(&id, &rawVec, &rawMeta); err != nil {
			return nil, engram.NewStorageError("vector_search", err)
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(rawMeta), &metadata); err != nil {
			return nil, engram.NewStorageError("vector_search", err)
		}
		if !metadataMatches(metadata, filter) {
			continue
		}
		var candidate []float64
		if err := json.Unmarshal([]byte(rawVec), &candidate); err != nil {
			return nil, engram.NewStorageError("vector_search", err)
		}
		results = append(results, engram.VectorSearchResult{
			ID:       id,
			Score:    engram.CosineSimilarity(vector, candidate),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, engram.NewStorageError("vector_search", err)
	}
	sortResultsByScore(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *SQLiteStore) SaveFact(ctx context.Context, fact *engram.Fact) error {
	return s.writeFact(ctx, "save_fact", fact)
}

func (s *SQLiteStore) UpdateFact(ctx context.Context, fact *engram.Fact) error {
	return s.writeFact(ctx, "update_fact", fact)
}

func (s *SQLiteStore) writeFact(ctx context.Context, op string, fact *engram.Fact) error {
	supersedes, err := marshalJSON(fact.Supersedes, "[]")
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	metadata, err := marshalJSON(fact.Metadata, "{}")
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO facts
		(id, session_id, episode_id, content, created_at, fact_type, confidence, embedding_id, token_count, superseded_by, supersedes, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.SessionID, fact.EpisodeID, fact.Content, formatTime(fact.CreatedAt),
		fact.FactType, fact.Confidence, fact.EmbeddingID, fact.TokenCount,
		fact.SupersededBy, supersedes, metadata)
	if err != nil {
		return engram.NewStorageError(op, err)
	}
	return nil
}

func (s *SQLiteStore) GetFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.queryFacts(ctx, "get_facts_by_session",
		`SELECT `+factColumns+` FROM facts WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
}

func (s *SQLiteStore) GetFactsByEpisode(ctx context.Context, episodeID string) ([]*engram.Fact, error) {
	return s.queryFacts(ctx, "get_facts_by_episode",
		`SELECT `+factColumns+` FROM facts WHERE episode_id = ? ORDER BY created_at ASC, id ASC`, episodeID)
}

func (s *SQLiteStore) GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.queryFacts(ctx, "get_active_facts_by_session",
		`SELECT `+factColumns+` FROM facts WHERE session_id = ? AND superseded_by = '' ORDER BY created_at ASC, id ASC`, sessionID)
}

func (s *SQLiteStore) GetSessionStats(ctx context.Context, sessionID string) (*engram.SessionStats, error) {
	stats := &engram.SessionStats{SessionID: sessionID}

	var firstAt, lastAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(token_count), 0), MIN(created_at), MAX(created_at)
		FROM turns WHERE session_id = ?`, sessionID).
		Scan(&stats.TotalTurns, &stats.TotalTokensIngested, &firstAt, &lastAt)
	if err != nil {
		return nil, engram.NewStorageError("get_session_stats", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM episodes WHERE session_id = ?`, sessionID).Scan(&stats.TotalEpisodes)
	if err != nil {
		return nil, engram.NewStorageError("get_session_stats", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE session_id = ?`, sessionID).Scan(&stats.TotalFacts)
	if err != nil {
		return nil, engram.NewStorageError("get_session_stats", err)
	}

	var openID sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM episodes WHERE session_id = ? AND status = ? LIMIT 1`,
		sessionID, string(engram.EpisodeOpen)).Scan(&openID)
	if err != nil && err != sql.ErrNoRows {
		return nil, engram.NewStorageError("get_session_stats", err)
	}
	if openID.Valid {
		stats.OpenEpisodeID = openID.String
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM turns WHERE episode_id = ?`, openID.String).
			Scan(&stats.OpenEpisodeTurnCount)
		if err != nil {
			return nil, engram.NewStorageError("get_session_stats", err)
		}
	}

	now := time.Now()
	stats.CreatedAt = parseTimeOr(firstAt, now)
	stats.LastActivityAt = parseTimeOr(lastAt, stats.CreatedAt)
	return stats, nil
}

const (
	turnColumns    = `id, session_id, episode_id, role, content, created_at, actor_id, markers, token_count, embedding_id, position, metadata`
	episodeColumns = `id, session_id, status, created_at, closed_at, close_reason, turn_count, total_tokens, markers, summary, metadata`
	factColumns    = `id, session_id, episode_id, content, created_at, fact_type, confidence, embedding_id, token_count, superseded_by, supersedes, metadata`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*engram.Turn, error) {
	var turn engram.Turn
	var role, createdAt, markers, metadata string
	if err := row.Scan(&turn.ID, &turn.SessionID, &turn.EpisodeID, &role, &turn.Content,
		&createdAt, &turn.ActorID, &markers, &turn.TokenCount, &turn.EmbeddingID,
		&turn.Position, &metadata); err != nil {
		return nil, err
	}
	turn.Role = engram.Role(role)
	var err error
	if turn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(markers), &turn.Markers); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadata, &turn.Metadata); err != nil {
		return nil, err
	}
	return &turn, nil
}

func scanEpisode(row rowScanner) (*engram.Episode, error) {
	var episode engram.Episode
	var status, createdAt, markers, metadata string
	var closedAt sql.NullString
	if err := row.Scan(&episode.ID, &episode.SessionID, &status, &createdAt, &closedAt,
		&episode.CloseReason, &episode.TurnCount, &episode.TotalTokens, &markers,
		&episode.Summary, &metadata); err != nil {
		return nil, err
	}
	episode.Status = engram.EpisodeStatus(status)
	var err error
	if episode.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, err
		}
		episode.ClosedAt = &t
	}
	if err := json.Unmarshal([]byte(markers), &episode.Markers); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadata, &episode.Metadata); err != nil {
		return nil, err
	}
	return &episode, nil
}

func scanFact(row rowScanner) (*engram.Fact, error) {
	var fact engram.Fact
	var createdAt, supersedes, metadata string
	if err := row.Scan(&fact.ID, &fact.SessionID, &fact.EpisodeID, &fact.Content,
		&createdAt, &fact.FactType, &fact.Confidence, &fact.EmbeddingID,
		&fact.TokenCount, &fact.SupersededBy, &supersedes, &metadata); err != nil {
		return nil, err
	}
	var err error
	if fact.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(supersedes), &fact.Supersedes); err != nil {
		return nil, err
	}
	if err := unmarshalMetadata(metadata, &fact.Metadata); err != nil {
		return nil, err
	}
	return &fact, nil
}

func (s *SQLiteStore) queryTurns(ctx context.Context, op, query string, args ...any) ([]*engram.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engram.NewStorageError(op, err)
	}
	defer rows.Close()
	var turns []*engram.Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, engram.NewStorageError(op, err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, engram.NewStorageError(op, err)
	}
	return turns, nil
}

func (s *SQLiteStore) queryFacts(ctx context.Context, op, query string, args ...any) ([]*engram.Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engram.NewStorageError(op, err)
	}
	defer rows.Close()
	var facts []*engram.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, engram.NewStorageError(op, err)
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, engram.NewStorageError(op, err)
	}
	return facts, nil
}

func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	out := string(data)
	if out == "null" {
		return empty, nil
	}
	return out, nil
}

func unmarshalMetadata(raw string, dst *map[string]any) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimeOr(ns sql.NullString, fallback time.Time) time.Time {
	if !ns.Valid {
		return fallback
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return fallback
	}
	return t
}
