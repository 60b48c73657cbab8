// Package workflow implements deferred vault deletion as a persisted state
// record driven by a scheduler. Status changes are compare-and-swap updates,
// so cancellation may race the scheduler safely.
//
//	scheduled --Access--> terminated
//	scheduled --Scheduler--> running --> executed
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	"github.com/dmitrijs2005/vaultsync/internal/dbx"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/repositories/repomanager"
)

// GracePeriod is how long a destroyed vault survives before deletion.
const GracePeriod = 24 * time.Hour

const (
	// a running instance not touched for this long is taken over
	staleAfter = 10 * time.Minute
	retryDelay = time.Minute
	batchSize  = 50
)

// Destroyer hard-deletes a vault. It reports false when there was none.
type Destroyer interface {
	Destroy(ctx context.Context, key models.VaultKey) (bool, error)
}

// InstanceID is the deterministic id of the workflow for key.
func InstanceID(key models.VaultKey) string {
	return cryptox.HashHex([]byte(key.Namespace + "\x00" + key.UserID + "\x00" + key.PublicKey))
}

type Service struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	destroyer   Destroyer
	logger      logging.Logger
	now         func() time.Time
}

func NewService(db dbx.DBTX, m repomanager.RepositoryManager, d Destroyer, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: m,
		destroyer:   d,
		logger:      logger.With("module", "workflow"),
		now:         time.Now,
	}
}

// Destroy schedules deletion of the vault at now+GracePeriod. Calling it
// again while an instance is pending returns that instance unchanged; a
// finished instance is rescheduled.
func (s *Service) Destroy(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, error) {
	repo := s.repomanager.Workflows(s.db)
	id := InstanceID(key)

	for attempt := 0; attempt < 3; attempt++ {
		now := s.now()
		w, err := repo.Get(ctx, id)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			w = &models.DestroyWorkflow{
				InstanceID:  id,
				Namespace:   key.Namespace,
				UserID:      key.UserID,
				PublicKey:   key.PublicKey,
				DeleteAfter: now.Add(GracePeriod),
				Status:      models.WorkflowScheduled,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			err = repo.Create(ctx, w)
			if errors.Is(err, common.ErrorAlreadyExists) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("create workflow: %w", err)
			}
			s.logger.Info(ctx, "vault destruction scheduled", "instance", id, "deleteAfter", w.DeleteAfter)
			return w, nil

		case err != nil:
			return nil, fmt.Errorf("get workflow: %w", err)

		case w.Status == models.WorkflowScheduled || w.Status == models.WorkflowRunning:
			return w, nil
		}

		ok, err := repo.Reschedule(ctx, id, w.Status, now.Add(GracePeriod), now)
		if err != nil {
			return nil, fmt.Errorf("reschedule workflow: %w", err)
		}
		if ok {
			w.Status, w.DeleteAfter, w.UpdatedAt = models.WorkflowScheduled, now.Add(GracePeriod), now
			s.logger.Info(ctx, "vault destruction rescheduled", "instance", id, "deleteAfter", w.DeleteAfter)
			return w, nil
		}
	}
	return nil, fmt.Errorf("destroy workflow %s: %w", id, common.ErrorInternal)
}

// Access cancels a pending deletion of the vault. It reports whether an
// instance was terminated; no instance, or one that already ran, is not an
// error.
func (s *Service) Access(ctx context.Context, key models.VaultKey) (bool, error) {
	repo := s.repomanager.Workflows(s.db)
	id := InstanceID(key)

	ok, err := repo.Transition(ctx, id, models.WorkflowScheduled, models.WorkflowTerminated, s.now())
	if err != nil {
		return false, fmt.Errorf("terminate workflow: %w", err)
	}
	if ok {
		s.logger.Info(ctx, "vault destruction cancelled", "instance", id)
	}
	return ok, nil
}

// Get returns the current instance for key, if any.
func (s *Service) Get(ctx context.Context, key models.VaultKey) (*models.DestroyWorkflow, bool, error) {
	w, err := s.repomanager.Workflows(s.db).Get(ctx, InstanceID(key))
	if errors.Is(err, common.ErrorNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get workflow: %w", err)
	}
	return w, true, nil
}

// RunDue executes every instance whose deadline has passed and returns how
// many were executed.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	repo := s.repomanager.Workflows(s.db)
	now := s.now()

	due, err := repo.ListDue(ctx, now, now.Add(-staleAfter), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due workflows: %w", err)
	}

	executed := 0
	for _, w := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		ok, err := s.execute(ctx, w)
		if err != nil {
			s.logger.Error(ctx, "vault destruction failed", "instance", w.InstanceID, "err", err)
			continue
		}
		if ok {
			executed++
		}
	}
	return executed, nil
}

func (s *Service) execute(ctx context.Context, w *models.DestroyWorkflow) (bool, error) {
	repo := s.repomanager.Workflows(s.db)

	claimedAt := s.now()
	ok, err := repo.Claim(ctx, w.InstanceID, w.Status, w.UpdatedAt, claimedAt)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !ok {
		// cancelled or taken by another node
		return false, nil
	}

	key := models.VaultKey{Namespace: w.Namespace, UserID: w.UserID, PublicKey: w.PublicKey}
	found, err := s.destroyer.Destroy(ctx, key)
	if err != nil {
		if _, rerr := repo.Reschedule(context.WithoutCancel(ctx), w.InstanceID, models.WorkflowRunning, s.now().Add(retryDelay), s.now()); rerr != nil {
			s.logger.Error(ctx, "reschedule after failure", "instance", w.InstanceID, "err", rerr)
		}
		return false, err
	}

	if _, err := repo.Transition(ctx, w.InstanceID, models.WorkflowRunning, models.WorkflowExecuted, s.now()); err != nil {
		return false, fmt.Errorf("mark executed: %w", err)
	}
	s.logger.Info(ctx, "vault destruction executed", "instance", w.InstanceID, "found", found)
	return true, nil
}
