package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

const (
	SummaryPending   = "pending"
	SummaryRunning   = "running"
	SummaryCompleted = "completed"
	SummaryFailed    = "failed"
)

const (
	DictationActive = "active"
	DictationEnded  = "ended"
)

// Dictation is one recording from StartRecording to StopRecording, with the
// final transcript segments journaled under it.
type Dictation struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Status        string     `json:"status"`
	Summary       string     `json:"summary"`
	SummaryStatus string     `json:"summary_status"`
	SummaryModel  string     `json:"summary_model"`
	AudioPath     string     `json:"audio_path"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-dictate.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS dictations (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			summary_status TEXT NOT NULL DEFAULT 'pending',
			summary_model TEXT NOT NULL DEFAULT '',
			audio_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create dictations table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dictation_id TEXT NOT NULL,
			text TEXT NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(dictation_id) REFERENCES dictations(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_requests (
			dictation_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(dictation_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create summary_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_dictations_started_at ON dictations(started_at)"); err != nil {
		return fmt.Errorf("create dictations index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_segments_dictation_id ON segments(dictation_id, timestamp)"); err != nil {
		return fmt.Errorf("create segments index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}


func (s *SQLiteStore) CreateDictation(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("dictation id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO dictations(id, started_at, status, summary_status) VALUES(?, ?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		DictationActive,
		SummaryPending,
	)
	if err != nil {
		return fmt.Errorf("create dictation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndDictation(id string, endedAt time.Time, audioPath string) error {
	res, err := s.db.Exec(
		`UPDATE dictations SET ended_at = ?, status = ?, audio_path = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		DictationEnded,
		audioPath,
		id,
	)
	if err != nil {
		return fmt.Errorf("end dictation %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end dictation rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) AppendSegment(dictationID string, seg transcribe.Segment) error {
	_, err := s.db.Exec(
		`INSERT INTO segments(dictation_id, text, start_time, end_time, timestamp) VALUES(?, ?, ?, ?, ?)`,
		dictationID,
		strings.TrimSpace(seg.Text),
		seg.StartTime,
		seg.EndTime,
		seg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append segment for dictation %s: %w", dictationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetDictationsByDate(date string) ([]Dictation, error) {
	rows, err := s.db.Query(
		`SELECT `+dictationColumns+`
		 FROM dictations
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query dictations by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	dictations := make([]Dictation, 0, 16)
	for rows.Next() {
		d, err := scanDictation(rows)
		if err != nil {
			return nil, err
		}
		dictations = append(dictations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dictation rows: %w", err)
	}
	return dictations, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM dictations ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetDictation(id string) (Dictation, error) {
	row := s.db.QueryRow(`SELECT `+dictationColumns+` FROM dictations WHERE id = ?`, id)
	d, err := scanDictation(row)
	if err != nil {
		return Dictation{}, fmt.Errorf("query dictation %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) GetSegments(dictationID string) ([]transcribe.Segment, error) {
	rows, err := s.db.Query(
		`SELECT text, start_time, end_time, timestamp
		 FROM segments
		 WHERE dictation_id = ?
		 ORDER BY id ASC`,
		dictationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for dictation %s: %w", dictationID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		var seg transcribe.Segment
		var ts string
		if err := rows.Scan(&seg.Text, &seg.StartTime, &seg.EndTime, &ts); err != nil {
			return nil, fmt.Errorf("scan segment for dictation %s: %w", dictationID, err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse segment timestamp for dictation %s: %w", dictationID, err)
		}
		seg.Timestamp = parsedTS

		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for dictation %s: %w", dictationID, err)
	}

	return segments, nil
}

func (s *SQLiteStore) UpdateSummary(dictationID, summary, status, model string) error {
	res, err := s.db.Exec(
		`UPDATE dictations SET summary = ?, summary_status = ?, summary_model = ? WHERE id = ?`,
		summary,
		status,
		model,
		dictationID,
	)
	if err != nil {
		return fmt.Errorf("update summary for dictation %s: %w", dictationID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ClaimSummaryRequest records that a summary for this dictation and prompt
// has been requested. It reports false if it was already claimed.
func (s *SQLiteStore) ClaimSummaryRequest(dictationID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(dictation_id, prompt_hash) VALUES(?, ?)`,
		dictationID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for dictation %s: %w", dictationID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

const dictationColumns = `id, started_at, ended_at, status, summary, summary_status, summary_model, audio_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDictation(row rowScanner) (Dictation, error) {
	var d Dictation
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&d.ID, &startedAt, &endedAt, &d.Status, &d.Summary, &d.SummaryStatus, &d.SummaryModel, &d.AudioPath); err != nil {
		return Dictation{}, fmt.Errorf("scan dictation: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Dictation{}, fmt.Errorf("parse dictation %s started_at: %w", d.ID, err)
	}
	d.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Dictation{}, fmt.Errorf("parse dictation %s ended_at: %w", d.ID, err)
		}
		d.EndedAt = &parsedEnd
	}

	return d, nil
}
