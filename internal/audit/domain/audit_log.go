package domain

import "time"

// AuditLog is one authority decision: a validation verdict, an accepted
// bookkeeping record or a change to the allowed ID list.
type AuditLog struct {
	ID string
	// Actor is the device or operator that made the request.
	Actor     string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
