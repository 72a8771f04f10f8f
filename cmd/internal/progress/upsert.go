package progress

import (
	"context"
	"errors"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
)

// mutation computes the change for a record. existing is nil when no record
// exists yet. Returning ok=false means there is nothing to write.
type mutation func(existing *StageProgress) (p Patch, ok bool)

// UpsertProgress updates the (userID, stageID) record with p, creating it from
// defaults plus p when absent.
func (c *Client) UpsertProgress(ctx context.Context, userID, stageID string, p Patch) (*StageProgress, error) {
	const op = "progress.UpsertProgress"
	if err := validatePatch(op, p); err != nil {
		return nil, err
	}
	return c.upsert(ctx, op, userID, stageID, func(*StageProgress) (Patch, bool) {
		return p, true
	})
}

// RecordAttempt records one play of a stage: currentScore is overwritten,
// bestScore becomes max(previous, score) and attempts grows by one.
func (c *Client) RecordAttempt(ctx context.Context, userID, stageID string, score int) (*StageProgress, error) {
	const op = "progress.RecordAttempt"
	if err := validateScore(op, score, 0); err != nil {
		return nil, err
	}
	return c.upsert(ctx, op, userID, stageID, func(existing *StageProgress) (Patch, bool) {
		now := c.clock.Now().UTC()
		if existing == nil {
			return Patch{
				CurrentScore:  Int(score),
				BestScore:     Int(score),
				Attempts:      Int(1),
				LastAttemptAt: Time(now),
			}, true
		}
		return Patch{
			CurrentScore:  Int(score),
			BestScore:     Int(max(existing.BestScore, score)),
			Attempts:      Int(existing.Attempts + 1),
			LastAttemptAt: Time(now),
		}, true
	})
}

// CompleteStage marks the stage completed with finalScore as both current and best score.
//
// It does not take the max with a previously stored bestScore: calling it with a
// score below the recorded best lowers bestScore. Record attempts first and pass
// the best score so far. starsEarned is never lowered by a completion.
func (c *Client) CompleteStage(ctx context.Context, userID, stageID string, finalScore, stars int) (*StageProgress, error) {
	const op = "progress.CompleteStage"
	if err := validateScore(op, finalScore, stars); err != nil {
		return nil, err
	}
	return c.upsert(ctx, op, userID, stageID, func(*StageProgress) (Patch, bool) {
		now := c.clock.Now().UTC()
		return Patch{
			IsCompleted:   Bool(true),
			CurrentScore:  Int(finalScore),
			BestScore:     Int(finalScore),
			StarsEarned:   Int(stars),
			LastAttemptAt: Time(now),
			CompletedAt:   Time(now),
		}, true
	})
}

// UpdateBestScore raises bestScore to score when score is higher. It creates the
// record when absent and writes nothing otherwise.
func (c *Client) UpdateBestScore(ctx context.Context, userID, stageID string, score int) (*StageProgress, error) {
	const op = "progress.UpdateBestScore"
	if err := validateScore(op, score, 0); err != nil {
		return nil, err
	}
	return c.upsert(ctx, op, userID, stageID, func(existing *StageProgress) (Patch, bool) {
		if existing != nil && existing.BestScore >= score {
			return Patch{}, false
		}
		return Patch{BestScore: Int(score)}, true
	})
}

// ResetStageProgress clears scores, stars, attempts and completion for the stage.
// A missing record is left missing and yields (nil, nil).
func (c *Client) ResetStageProgress(ctx context.Context, userID, stageID string) (*StageProgress, error) {
	const op = "progress.ResetStageProgress"
	return c.upsert(ctx, op, userID, stageID, func(existing *StageProgress) (Patch, bool) {
		if existing == nil {
			return Patch{}, false
		}
		return Patch{
			IsCompleted:  Bool(false),
			CurrentScore: Int(0),
			BestScore:    Int(0),
			StarsEarned:  Int(0),
			Attempts:     Int(0),
			reset:        true,
		}, true
	})
}

// upsert runs the read, update-or-create protocol. On a create conflict it waits
// the backoff, re-reads once and applies m to the winner's record; if the record
// is still missing the conflict is returned as *ConflictError.
func (c *Client) upsert(ctx context.Context, op, userID, stageID string, m mutation) (*StageProgress, error) {
	if err := c.allowWrite(op); err != nil {
		return nil, err
	}
	userID, stageID, err := validateKey(op, userID, stageID)
	if err != nil {
		return nil, err
	}
	label := opLabel(op)

	existing, err := c.GetUserStageProgress(ctx, userID, stageID)
	if err != nil {
		c.metrics.ProgressWrite(label, "error")
		return nil, err
	}
	if existing != nil {
		rec, err := c.applyExisting(ctx, *existing, m)
		return c.finish(label, rec, err)
	}

	p, ok := m(nil)
	if !ok {
		c.metrics.ProgressWrite(label, "skipped")
		return nil, nil
	}
	rec := newRecord(userID, stageID)
	p.applyTo(&rec)

	created, err := c.create(ctx, rec)
	if err == nil {
		return c.finish(label, created, nil)
	}
	if !backend.IsConflict(err) {
		return c.finish(label, nil, err)
	}

	c.log.Info("progress.upsert.conflict",
		"op", op,
		"user_id", userID,
		"stage_id", stageID,
	)

	if werr := c.wait(ctx); werr != nil {
		return c.finish(label, nil, werr)
	}

	winner, rerr := c.GetUserStageProgress(ctx, userID, stageID)
	if rerr != nil {
		return c.finish(label, nil, rerr)
	}
	if winner == nil {
		c.metrics.ProgressConflict("fatal")
		c.log.Error("progress.upsert.conflict.unresolved",
			"op", op,
			"user_id", userID,
			"stage_id", stageID,
		)
		return c.finish(label, nil, &ConflictError{Op: op, UserID: userID, StageID: stageID, Cause: err})
	}

	c.metrics.ProgressConflict("resolved")
	updated, uerr := c.applyExisting(ctx, *winner, m)
	return c.finish(label, updated, uerr)
}

func (c *Client) applyExisting(ctx context.Context, existing StageProgress, m mutation) (*StageProgress, error) {
	p, ok := m(&existing)
	if !ok {
		return &existing, nil
	}
	p = p.guard(existing)
	if p.IsZero() {
		return &existing, nil
	}
	return c.update(ctx, existing, p)
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-c.clock.After(c.backoff):
		return nil
	case <-ctx.Done():
		return errors.Join(backend.ErrNetwork, ctx.Err())
	}
}

func (c *Client) finish(label string, rec *StageProgress, err error) (*StageProgress, error) {
	if err != nil {
		c.metrics.ProgressWrite(label, "error")
		return nil, err
	}
	c.metrics.ProgressWrite(label, "ok")
	return rec, nil
}
