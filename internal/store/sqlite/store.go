package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wildfire_crew/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	level TEXT NOT NULL,
	mode TEXT NOT NULL,
	seed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	steps INTEGER NOT NULL DEFAULT 0,
	score INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id TEXT NOT NULL,
	timestep INTEGER NOT NULL,
	score INTEGER NOT NULL,
	api_calls INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(episode_id, timestep),
	FOREIGN KEY(episode_id) REFERENCES episodes(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS agent_messages (
	id TEXT PRIMARY KEY,
	episode_id TEXT NOT NULL,
	timestep INTEGER NOT NULL,
	from_agent TEXT NOT NULL,
	to_agent INTEGER NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(episode_id) REFERENCES episodes(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_episode ON agent_messages(episode_id, timestep);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id TEXT NOT NULL,
	timestep INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(episode_id) REFERENCES episodes(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decision_log_episode ON decision_log(episode_id, timestep);
`

// ErrEpisodeNotFound is returned when an episode id is unknown.
var ErrEpisodeNotFound = errors.New("episode not found")

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateEpisode(ctx context.Context, ep domain.Episode) error {
	now := time.Now().UTC()
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	if ep.UpdatedAt.IsZero() {
		ep.UpdatedAt = now
	}
	if ep.Status == "" {
		ep.Status = domain.EpisodeStatusRunning
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO episodes(id, level, mode, seed, status, steps, score, last_error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Level, ep.Mode, ep.Seed, string(ep.Status), ep.Steps, ep.Score, ep.LastError,
		ep.CreatedAt.Unix(), ep.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	return nil
}

// UpdateEpisodeProgress records the latest step and score of a running episode.
func (s *Store) UpdateEpisodeProgress(ctx context.Context, episodeID string, steps, score int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET steps = ?, score = ?, updated_at = ? WHERE id = ?`,
		steps, score, time.Now().UTC().Unix(), episodeID,
	)
	if err != nil {
		return fmt.Errorf("update episode progress: %w", err)
	}
	return requireRow(res, episodeID)
}

// FinishEpisode sets the terminal status. lastError is kept empty on success.
func (s *Store) FinishEpisode(ctx context.Context, episodeID string, status domain.EpisodeStatus, lastError string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC().Unix(), episodeID,
	)
	if err != nil {
		return fmt.Errorf("finish episode: %w", err)
	}
	return requireRow(res, episodeID)
}

func (s *Store) GetEpisode(ctx context.Context, episodeID string) (domain.Episode, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, level, mode, seed, status, steps, score, last_error, created_at, updated_at
		FROM episodes WHERE id = ?`,
		episodeID,
	)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Episode{}, fmt.Errorf("get episode %s: %w", episodeID, ErrEpisodeNotFound)
	}
	if err != nil {
		return domain.Episode{}, fmt.Errorf("get episode: %w", err)
	}
	return ep, nil
}

func (s *Store) ListEpisodes(ctx context.Context, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, level, mode, seed, status, steps, score, last_error, created_at, updated_at
		FROM episodes ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Episode, 0)
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		result = append(result, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return result, nil
}

// AppendTelemetry stores one row per timestep. A repeated timestep replaces
// the earlier row.
func (s *Store) AppendTelemetry(ctx context.Context, row domain.TelemetryRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO telemetry(episode_id, timestep, score, api_calls, input_tokens, output_tokens, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_id, timestep) DO UPDATE SET
			score = excluded.score,
			api_calls = excluded.api_calls,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens`,
		row.EpisodeID, row.Timestep, row.Score, row.APICalls, row.InputTokens, row.OutputTokens,
		row.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}
	return nil
}

func (s *Store) ListTelemetry(ctx context.Context, episodeID string) ([]domain.TelemetryRow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT episode_id, timestep, score, api_calls, input_tokens, output_tokens, created_at
		FROM telemetry WHERE episode_id = ? ORDER BY timestep ASC`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TelemetryRow, 0)
	for rows.Next() {
		var item domain.TelemetryRow
		var createdAt int64
		if err := rows.Scan(
			&item.EpisodeID, &item.Timestep, &item.Score, &item.APICalls,
			&item.InputTokens, &item.OutputTokens, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}
	return result, nil
}

// SaveMessages stores the messages delivered during one timestep. Messages
// already stored are skipped.
func (s *Store) SaveMessages(ctx context.Context, episodeID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save messages: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, msg := range msgs {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO agent_messages(id, episode_id, timestep, from_agent, to_agent, content, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, episodeID, msg.Timestep, msg.From, int(msg.To), msg.Content, createdAt.Unix(),
		); err != nil {
			return fmt.Errorf("save message %s: %w", msg.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, episodeID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, timestep, from_agent, to_agent, content, created_at
		FROM agent_messages
		WHERE episode_id = ?
		ORDER BY timestep ASC, created_at ASC
		LIMIT ?`,
		episodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		var to int
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Timestep, &msg.From, &to, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.To = domain.AgentID(to)
		msg.CreatedAt = unixToTime(createdAt)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(episode_id, timestep, actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.EpisodeID, entry.Timestep, entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, episodeID string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, episode_id, timestep, actor, action, reason, payload, created_at
		FROM decision_log
		WHERE episode_id = ?
		ORDER BY timestep ASC, id ASC
		LIMIT ?`,
		episodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.EpisodeID, &item.Timestep, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (domain.Episode, error) {
	var ep domain.Episode
	var status string
	var created, updated int64
	if err := row.Scan(
		&ep.ID, &ep.Level, &ep.Mode, &ep.Seed, &status, &ep.Steps, &ep.Score, &ep.LastError,
		&created, &updated,
	); err != nil {
		return domain.Episode{}, err
	}
	ep.Status = domain.EpisodeStatus(status)
	ep.CreatedAt = unixToTime(created)
	ep.UpdatedAt = unixToTime(updated)
	return ep, nil
}

func requireRow(res sql.Result, episodeID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("episode %s: %w", episodeID, ErrEpisodeNotFound)
	}
	return nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
