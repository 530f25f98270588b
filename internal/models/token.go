package models

import (
	"time"
)

// TokenPair as issued by the remote auth endpoints
// At most one valid pair is stored at a time; absence of the
// refresh token means the station is logged out
type TokenPair struct {
	Access    string
	Refresh   string
	ExpiresIn time.Duration
}
