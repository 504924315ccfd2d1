package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/no1jj/restore-bot/internal/backup"
	"github.com/no1jj/restore-bot/internal/config"
	"github.com/no1jj/restore-bot/internal/notify"
	"github.com/no1jj/restore-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: backup <job_file>")
		return 1
	}
	jobPath := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		// No output directory is known yet; the marker goes next to the
		// job file so a polling caller still observes a terminal file.
		_ = backup.WriteErrorMarker(filepath.Dir(jobPath), "SYSTEM", err)
		return 1
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		_ = backup.WriteErrorMarker(filepath.Dir(jobPath), "SYSTEM", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	job, err := config.LoadJob(jobPath)
	if err != nil {
		logger.Error("job load failed", zap.Error(err))
		_ = backup.WriteErrorMarker(filepath.Dir(jobPath), "SYSTEM", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.RunTimeoutMinutes)*time.Minute)
	defer cancel()

	var store *storage.Store
	if cfg.DatabasePath != "" {
		store, err = storage.New(cfg.DatabasePath)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
			store = nil
		} else {
			defer store.Close()
			if err := store.Migrate(); err != nil {
				logger.Warn("run history disabled", zap.Error(err))
				store = nil
			}
		}
	}

	runID := uuid.NewString()
	if store != nil {
		err := store.RecordStart(ctx, storage.BackupRun{
			ID:        runID,
			GuildID:   job.GuildID,
			GuildName: job.ServerName,
			Creator:   job.Creator,
			OutputDir: job.BackupDir,
			StartedAt: time.Now(),
		})
		if err != nil {
			logger.Warn("run record failed", zap.Error(err))
		}
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fail(ctx, logger, store, nil, cfg, job, runID, fmt.Errorf("client init: %w", err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildEmojis

	if err := openSession(session, time.Duration(cfg.LoginTimeoutSeconds)*time.Second); err != nil {
		return fail(ctx, logger, store, nil, cfg, job, runID, err)
	}
	defer session.Close()
	logger.Info("discord login succeeded", zap.String("guild_id", job.GuildID))

	src, err := backup.NewDiscordSource(session, job.GuildID, logger)
	if err != nil {
		return fail(ctx, logger, store, session, cfg, job, runID, err)
	}

	downloader := backup.NewDownloader(logger,
		backup.WithRetryPolicy(cfg.Backup.DownloadAttempts, time.Duration(cfg.Backup.DownloadBackoffSeconds)*time.Second))
	builder := backup.NewBuilder(downloader, logger,
		backup.WithDownloadConcurrency(cfg.Backup.DownloadConcurrency))

	snapshot, tally, err := builder.Build(ctx, src, job.BackupDir, job.Creator)
	if err != nil {
		return fail(ctx, logger, store, session, cfg, job, runID, err)
	}

	if err := backup.Write(job.BackupDir, snapshot); err != nil {
		return fail(ctx, logger, store, session, cfg, job, runID, err)
	}
	if cfg.Backup.CompactExport {
		if err := backup.WriteCompact(job.BackupDir, snapshot); err != nil {
			logger.Warn("compact export failed", zap.Error(err))
		}
	}

	if store != nil {
		err := store.RecordFinish(ctx, runID, storage.StatusDone, tally.Succeeded(), tally.Skipped(), "", time.Now())
		if err != nil {
			logger.Warn("run record failed", zap.Error(err))
		}
	}
	notify.New(session, cfg.WebhookURL, logger).Send(notify.Summary{
		GuildName: snapshot.ServerInfo.Name,
		GuildID:   snapshot.ServerInfo.ID,
		Creator:   job.Creator,
		Succeeded: tally.Succeeded(),
		Skipped:   tally.Skipped(),
	})

	logger.Info("backup complete",
		zap.String("dir", job.BackupDir),
		zap.Int("sections_ok", tally.Succeeded()),
		zap.Int("sections_skipped", tally.Skipped()))
	return 0
}

// fail handles the fatal path: log, write the error-marker snapshot so the
// polling caller observes a terminal file, record and notify, exit nonzero.
func fail(ctx context.Context, logger *zap.Logger, store *storage.Store, session *discordgo.Session, cfg config.Config, job config.Job, runID string, cause error) int {
	logger.Error("backup failed", zap.String("guild_id", job.GuildID), zap.Error(cause))
	if err := backup.WriteErrorMarker(job.BackupDir, job.Creator, cause); err != nil {
		logger.Error("error marker write failed", zap.Error(err))
	}
	if store != nil {
		if err := store.RecordFinish(ctx, runID, storage.StatusFailed, 0, 0, cause.Error(), time.Now()); err != nil {
			logger.Warn("run record failed", zap.Error(err))
		}
	}
	if session != nil {
		notify.New(session, cfg.WebhookURL, logger).Send(notify.Summary{
			GuildName: job.ServerName,
			GuildID:   job.GuildID,
			Creator:   job.Creator,
			Failed:    true,
			Error:     cause.Error(),
		})
	}
	return 1
}

// openSession connects the gateway with a hard deadline; a hung login must
// not stall the caller past the timeout.
func openSession(session *discordgo.Session, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Open()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("discord login: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return errors.New("discord login timed out")
	}
}
