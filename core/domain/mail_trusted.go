package domain

import "time"

// TrustedSender is an allow-list entry instructing the UI to auto-load
// remote content for a sender.
type TrustedSender struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription holds one browser push endpoint registration.
type PushSubscription struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
