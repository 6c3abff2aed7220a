package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists projects in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			video_filename TEXT NOT NULL,
			video_path TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'uploaded',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			progress INTEGER DEFAULT 0,
			status_message TEXT DEFAULT '',
			total_frames INTEGER DEFAULT 0,
			total_objects INTEGER DEFAULT 0,
			segmentation_json_path TEXT DEFAULT '',
			segmentation_time REAL DEFAULT 0,
			annotated_video_path TEXT DEFAULT '',
			analysis_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_created ON projects(created_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}
	return nil
}

const projectColumns = `id, video_filename, video_path, file_size, status, created_at, updated_at,
	progress, status_message, total_frames, total_objects, segmentation_json_path,
	segmentation_time, annotated_video_path, analysis_json`

func analysisJSON(a *Analysis) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encoding analysis")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, p *Project) error {
	analysis, err := analysisJSON(p.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.VideoFilename, p.VideoPath, p.FileSize, string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		p.Progress, p.StatusMessage, p.TotalFrames, p.TotalObjects, p.ArtifactPath,
		p.SegmentationSeconds, p.AnnotatedVideoPath, analysis)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errors.Wrap(ErrExists, p.ID)
		}
		return errors.Wrap(err, "inserting project")
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, p *Project) error {
	analysis, err := analysisJSON(p.Analysis)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET
			video_filename = ?, video_path = ?, file_size = ?, status = ?, updated_at = ?,
			progress = ?, status_message = ?, total_frames = ?, total_objects = ?,
			segmentation_json_path = ?, segmentation_time = ?, annotated_video_path = ?,
			analysis_json = ?
		WHERE id = ?`,
		p.VideoFilename, p.VideoPath, p.FileSize, string(p.Status), p.UpdatedAt.UTC(),
		p.Progress, p.StatusMessage, p.TotalFrames, p.TotalObjects,
		p.ArtifactPath, p.SegmentationSeconds, p.AnnotatedVideoPath,
		analysis, p.ID)
	if err != nil {
		return errors.Wrap(err, "updating project")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(ErrNotFound, p.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		p        Project
		status   string
		analysis sql.NullString
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&p.ID, &p.VideoFilename, &p.VideoPath, &p.FileSize, &status, &created, &updated,
		&p.Progress, &p.StatusMessage, &p.TotalFrames, &p.TotalObjects, &p.ArtifactPath,
		&p.SegmentationSeconds, &p.AnnotatedVideoPath, &analysis)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	p.CreatedAt = created.Local()
	p.UpdatedAt = updated.Local()
	if analysis.Valid && analysis.String != "" {
		var a Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, errors.Wrap(err, "decoding analysis")
		}
		p.Analysis = &a
	}
	return &p, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting project")
	}
	return p, nil
}

// List returns projects newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "listing projects")
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
