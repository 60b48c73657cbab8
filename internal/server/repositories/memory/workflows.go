package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type workflowRepo struct{ s *store }

func (r *workflowRepo) Get(_ context.Context, instanceID string) (*models.DestroyWorkflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.workflows[instanceID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *workflowRepo) Create(_ context.Context, w *models.DestroyWorkflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.workflows[w.InstanceID]; ok {
		return common.ErrorAlreadyExists
	}
	cp := *w
	r.s.workflows[w.InstanceID] = &cp
	return nil
}

func (r *workflowRepo) swap(instanceID string, match func(w *models.DestroyWorkflow) bool, apply func(w *models.DestroyWorkflow)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.workflows[instanceID]
	if !ok || !match(w) {
		return false
	}
	apply(w)
	return true
}

func (r *workflowRepo) Transition(_ context.Context, instanceID, from, to string, now time.Time) (bool, error) {
	return r.swap(instanceID,
		func(w *models.DestroyWorkflow) bool { return w.Status == from },
		func(w *models.DestroyWorkflow) { w.Status, w.UpdatedAt = to, now }), nil
}

func (r *workflowRepo) Reschedule(_ context.Context, instanceID, from string, deleteAfter, now time.Time) (bool, error) {
	return r.swap(instanceID,
		func(w *models.DestroyWorkflow) bool { return w.Status == from },
		func(w *models.DestroyWorkflow) {
			w.Status, w.DeleteAfter, w.UpdatedAt = models.WorkflowScheduled, deleteAfter, now
		}), nil
}

func (r *workflowRepo) Claim(_ context.Context, instanceID, status string, updatedAt, now time.Time) (bool, error) {
	return r.swap(instanceID,
		func(w *models.DestroyWorkflow) bool { return w.Status == status && w.UpdatedAt.Equal(updatedAt) },
		func(w *models.DestroyWorkflow) { w.Status, w.UpdatedAt = models.WorkflowRunning, now }), nil
}

func (r *workflowRepo) ListDue(_ context.Context, now, staleBefore time.Time, limit int) ([]*models.DestroyWorkflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.DestroyWorkflow
	for _, w := range r.s.workflows {
		due := w.Status == models.WorkflowScheduled && !w.DeleteAfter.After(now)
		stale := w.Status == models.WorkflowRunning && w.UpdatedAt.Before(staleBefore)
		if due || stale {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeleteAfter.Before(out[j].DeleteAfter) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
