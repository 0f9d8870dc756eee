package models

import "time"

// InboundEvent is a dedup ledger entry for one upstream webhook delivery.
// Written once, never mutated.
type InboundEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}
