// Package models defines server-side data models persisted in the database.
package models

import "time"

// Subscription names stored in users.subscription.
const (
	SubscriptionBasic = "basic"
	SubscriptionPro   = "pro"
)

type User struct {
	ID           string
	UserName     string
	Salt         []byte
	Verifier     []byte
	Subscription string
	CreatedAt    time.Time
}
