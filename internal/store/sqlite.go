package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/shared"
)

// SQLiteStore implements SessionStore using SQLite. Session rows hold the
// context window and quiz state as JSON; a keyed mutex serializes writers
// per session id so concurrent turns for the same session cannot lose
// context-window updates.
type SQLiteStore struct {
	db         *sql.DB
	ttl        time.Duration
	windowSize int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// SQLiteOptions configure the store.
type SQLiteOptions struct {
	// TTL after which sessions read back as expired. Zero disables expiry.
	TTL time.Duration
	// WindowSize bounds the context window; oldest turns are evicted. Zero
	// means the default of 10.
	WindowSize int
}

const defaultWindowSize = 10

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string, opts SQLiteOptions) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}

	s := &SQLiteStore{
		db:         db,
		ttl:        opts.TTL,
		windowSize: opts.WindowSize,
		locks:      make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		language TEXT NOT NULL,
		language_pinned INTEGER NOT NULL DEFAULT 0,
		persona TEXT NOT NULL,
		context_json TEXT NOT NULL,
		active_quiz_json TEXT,
		last_quiz_json TEXT,
		last_attempt_json TEXT,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// sessionLock returns the mutex serializing writers for a session id. Entries
// are never removed: a writer parked on the mutex when its session is deleted
// must still serialize with any later writer for the same id.
func (s *SQLiteStore) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create creates a new session.
func (s *SQLiteStore) Create(ctx context.Context, userID string, language domain.Language, languagePinned bool, persona domain.Persona) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Language:       language,
		LanguagePinned: languagePinned,
		Persona:        persona,
		CreatedAt:      now,
		LastActivityAt: now,
		Context:        []domain.Turn{},
	}

	query := `
	INSERT INTO sessions (session_id, user_id, language, language_pinned, persona, context_json, created_at, last_activity_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.execWithRetry(ctx, query,
		sess.ID, sess.UserID, string(sess.Language), boolToInt(languagePinned), string(sess.Persona),
		"[]", now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
	SELECT session_id, user_id, language, language_pinned, persona,
	       context_json, active_quiz_json, last_quiz_json, last_attempt_json,
	       created_at, last_activity_at
	FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sess domain.Session
	var language, persona, contextJSON string
	var pinned int
	var activeQuizJSON, lastQuizJSON, lastAttemptJSON sql.NullString
	var createdAt, lastActivity int64

	err := row.Scan(
		&sess.ID, &sess.UserID, &language, &pinned, &persona,
		&contextJSON, &activeQuizJSON, &lastQuizJSON, &lastAttemptJSON,
		&createdAt, &lastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Language = domain.Language(language)
	sess.LanguagePinned = pinned != 0
	sess.Persona = domain.Persona(persona)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastActivityAt = time.Unix(lastActivity, 0)

	if s.ttl > 0 && time.Since(sess.LastActivityAt) > s.ttl {
		return nil, domain.ErrExpired
	}

	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decode context window: %w", err)
	}
	if activeQuizJSON.Valid {
		sess.ActiveQuiz = &domain.Quiz{}
		if err := json.Unmarshal([]byte(activeQuizJSON.String), sess.ActiveQuiz); err != nil {
			return nil, fmt.Errorf("decode active quiz: %w", err)
		}
	}
	if lastQuizJSON.Valid {
		sess.LastQuiz = &domain.Quiz{}
		if err := json.Unmarshal([]byte(lastQuizJSON.String), sess.LastQuiz); err != nil {
			return nil, fmt.Errorf("decode last quiz: %w", err)
		}
	}
	if lastAttemptJSON.Valid {
		sess.LastAttempt = &domain.QuizAttempt{}
		if err := json.Unmarshal([]byte(lastAttemptJSON.String), sess.LastAttempt); err != nil {
			return nil, fmt.Errorf("decode last attempt: %w", err)
		}
	}
	return &sess, nil
}

// AppendTurn appends a completed turn to the context window, trimming the
// oldest entries beyond the window size, and bumps last activity.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turn *domain.Turn) (*domain.Session, error) {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.Context = append(sess.Context, *turn)
	if len(sess.Context) > s.windowSize {
		sess.Context = sess.Context[len(sess.Context)-s.windowSize:]
	}
	sess.LastActivityAt = time.Now()

	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return nil, fmt.Errorf("encode context window: %w", err)
	}

	query := `UPDATE sessions SET context_json = ?, last_activity_at = ? WHERE session_id = ?`
	if err := s.execWithRetry(ctx, query, string(contextJSON), sess.LastActivityAt.Unix(), id); err != nil {
		return nil, fmt.Errorf("update context window: %w", err)
	}
	return sess, nil
}

// SetActiveQuiz sets or clears the session's active quiz.
func (s *SQLiteStore) SetActiveQuiz(ctx context.Context, id string, quiz *domain.Quiz) error {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.get(ctx, id); err != nil {
		return err
	}

	var quizJSON any
	if quiz != nil {
		data, err := json.Marshal(quiz)
		if err != nil {
			return fmt.Errorf("encode quiz: %w", err)
		}
		quizJSON = string(data)
	}

	query := `UPDATE sessions SET active_quiz_json = ?, last_activity_at = ? WHERE session_id = ?`
	if err := s.execWithRetry(ctx, query, quizJSON, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("update active quiz: %w", err)
	}
	return nil
}

// UpdateActiveQuiz applies a mutation to the active quiz under the session
// lock and persists the result. The quiz id is re-verified inside the lock,
// so concurrent updates cannot operate on a replaced or completed quiz.
func (s *SQLiteStore) UpdateActiveQuiz(ctx context.Context, id, quizID string, mutate func(*domain.Quiz) error) error {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if sess.ActiveQuiz == nil || sess.ActiveQuiz.ID != quizID {
		return quizGuardError(sess, quizID)
	}

	if err := mutate(sess.ActiveQuiz); err != nil {
		return err
	}

	data, err := json.Marshal(sess.ActiveQuiz)
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	query := `UPDATE sessions SET active_quiz_json = ?, last_activity_at = ? WHERE session_id = ?`
	if err := s.execWithRetry(ctx, query, string(data), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("update active quiz: %w", err)
	}
	return nil
}

// CompleteQuiz clears the active quiz and records the scored quiz and attempt.
// The active quiz is re-verified under the session lock, so of two concurrent
// submissions only one completes; the other reports AlreadySubmitted.
func (s *SQLiteStore) CompleteQuiz(ctx context.Context, id string, quiz *domain.Quiz, attempt *domain.QuizAttempt) error {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if sess.ActiveQuiz == nil || sess.ActiveQuiz.ID != quiz.ID {
		return quizGuardError(sess, quiz.ID)
	}

	quizJSON, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("encode quiz: %w", err)
	}
	attemptJSON, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	query := `
	UPDATE sessions
	SET active_quiz_json = NULL, last_quiz_json = ?, last_attempt_json = ?, last_activity_at = ?
	WHERE session_id = ?`
	if err := s.execWithRetry(ctx, query, string(quizJSON), string(attemptJSON), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("complete quiz: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.execWithRetry(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// quizGuardError distinguishes a repeat submission of the last completed quiz
// from a genuinely unknown quiz id.
func quizGuardError(sess *domain.Session, quizID string) error {
	if sess.LastQuiz != nil && sess.LastQuiz.ID == quizID {
		return domain.ErrQuizAlreadySubmitted
	}
	return domain.ErrQuizMismatch
}

// ExpiredSessionIDs returns ids of sessions idle longer than the TTL.
func (s *SQLiteStore) ExpiredSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE last_activity_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry retries a write a few times when SQLite reports a lock
// conflict. WAL plus the busy timeout make this rare, but long checkpoints
// can still surface SQLITE_BUSY under write bursts.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ SessionStore = (*SQLiteStore)(nil)
