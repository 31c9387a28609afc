package model

import "time"

// Token is an opaque bearer credential. A user owns at most one token at a
// time; the store enforces this with a UNIQUE constraint on UserID.
type Token struct {
	Key     string
	UserID  int64
	Created time.Time
}
