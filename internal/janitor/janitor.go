// Package janitor runs periodic cleanup of expired refresh tokens and
// blobs that no post ever referenced.
package janitor

import (
	"context"
	"time"

	"backend-silksong/internal/db"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Janitor struct {
	db        db.Querier
	orphanAge time.Duration
	quartz    *cron.Cron
	now       func() time.Time
}

func New(db db.Querier, orphanAge time.Duration) *Janitor {
	return &Janitor{
		db:        db,
		orphanAge: orphanAge,
		quartz:    cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger))),
		now:       time.Now,
	}
}

// Start schedules Sweep using cron syntax, e.g. "@every 60m".
func (j *Janitor) Start(schedule string) error {
	if _, err := j.quartz.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = j.Sweep(ctx)
	}); err != nil {
		return err
	}
	j.quartz.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.quartz.Stop().Done()
}

// Sweep deletes expired or revoked refresh tokens and unreferenced blobs
// older than the orphan age.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	tokens, err := j.db.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1 OR revoked_at IS NOT NULL
	`, now)
	if err != nil {
		log.Error().Err(err).Msg("janitor: refresh token sweep failed")
		return err
	}

	blobs, err := j.db.Exec(ctx, `
		DELETE FROM blobs b
		WHERE b.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM posts p WHERE p.image_id = b.id)
	`, now.Add(-j.orphanAge))
	if err != nil {
		log.Error().Err(err).Msg("janitor: orphan blob sweep failed")
		return err
	}

	log.Info().
		Int64("refresh_tokens", tokens.RowsAffected()).
		Int64("orphan_blobs", blobs.RowsAffected()).
		Msg("janitor sweep finished")
	return nil
}
