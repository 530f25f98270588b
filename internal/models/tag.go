package models

import (
	"time"
)

// Tag is one accepted hardware read (RFID or QR)
// Lives only for the duration of a scan session
type Tag struct {
	ID             string    `json:"id"`
	SignalStrength int       `json:"signal_strength"`
	ObservedAt     time.Time `json:"observed_at"`
}
