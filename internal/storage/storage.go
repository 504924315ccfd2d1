package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// BackupRun is one row of run history: who backed up which guild, where the
// output went, and how the sections fared.
type BackupRun struct {
	ID              string
	GuildID         string
	GuildName       string
	Creator         string
	OutputDir       string
	Status          string
	SectionsOK      int
	SectionsSkipped int
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// RecordStart inserts a running row for a fresh backup run.
func (s *Store) RecordStart(ctx context.Context, run BackupRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_runs (
			id, guild_id, guild_name, creator, output_dir, status,
			sections_ok, sections_skipped, error, started_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, 0, '', ?)`,
		run.ID, run.GuildID, run.GuildName, run.Creator, run.OutputDir,
		StatusRunning, run.StartedAt.UTC().Format(time.RFC3339))
	return err
}

// RecordFinish marks a run done or failed and stores the section tallies.
func (s *Store) RecordFinish(ctx context.Context, id, status string, ok, skipped int, runErr string, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE backup_runs SET status = ?, sections_ok = ?, sections_skipped = ?,
			error = ?, finished_at = ?
		WHERE id = ?`,
		status, ok, skipped, runErr, finishedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("backup run %s not found", id)
	}
	return nil
}

// RecentRuns returns the most recent runs for a guild, newest first. An
// empty guildID returns runs across all guilds.
func (s *Store) RecentRuns(ctx context.Context, guildID string, limit int) ([]BackupRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, guild_id, guild_name, creator, output_dir, status,
			sections_ok, sections_skipped, error, started_at, COALESCE(finished_at, '')
		FROM backup_runs`
	args := []any{}
	if guildID != "" {
		query += " WHERE guild_id = ?"
		args = append(args, guildID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BackupRun
	for rows.Next() {
		var run BackupRun
		var started, finished string
		if err := rows.Scan(
			&run.ID, &run.GuildID, &run.GuildName, &run.Creator, &run.OutputDir,
			&run.Status, &run.SectionsOK, &run.SectionsSkipped, &run.Error,
			&started, &finished,
		); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun fetches a single run by id.
func (s *Store) GetRun(ctx context.Context, id string) (BackupRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, guild_name, creator, output_dir, status,
			sections_ok, sections_skipped, error, started_at, COALESCE(finished_at, '')
		FROM backup_runs WHERE id = ?`, id)

	var run BackupRun
	var started, finished string
	err := row.Scan(
		&run.ID, &run.GuildID, &run.GuildName, &run.Creator, &run.OutputDir,
		&run.Status, &run.SectionsOK, &run.SectionsSkipped, &run.Error,
		&started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BackupRun{}, fmt.Errorf("backup run %s not found", id)
	}
	if err != nil {
		return BackupRun{}, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	if finished != "" {
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	}
	return run, nil
}

func isIgnorableMigrationError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
