package model

import "time"

// Lease is the master's record of a write lease. Expiration is in unix seconds.
type Lease struct {
	ChunkHandle string
	Holder      string
	Expiration  int64
}

func (l Lease) IsExpired(now time.Time) bool {
	return now.Unix() >= l.Expiration
}
