package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

type userRepo struct{ s *store }

func (r *userRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.UserName == user.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	if user.Subscription == "" {
		user.Subscription = models.SubscriptionBasic
	}
	user.ID = r.s.nextID("user")
	user.CreatedAt = time.Now()
	cp := *user
	r.s.users[user.ID] = &cp
	return user, nil
}

func (r *userRepo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.UserName == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *userRepo) GetSubscription(_ context.Context, userID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return u.Subscription, nil
}

type refreshTokenRepo struct{ s *store }

func (r *refreshTokenRepo) Create(_ context.Context, userID string, token string, validity time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.refreshTokens[token] = &models.RefreshToken{
		ID: r.s.nextID("rt"), UserID: userID, Token: token, Expires: time.Now().Add(validity), CreatedAt: time.Now(),
	}
	return nil
}

func (r *refreshTokenRepo) Consume(_ context.Context, token string) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rt, ok := r.s.refreshTokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(r.s.refreshTokens, token)
	return rt, nil
}

func (r *refreshTokenRepo) DeleteExpired(_ context.Context, t time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for k, rt := range r.s.refreshTokens {
		if rt.Expires.Before(t) {
			delete(r.s.refreshTokens, k)
			n++
		}
	}
	return n, nil
}
