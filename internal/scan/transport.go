package scan

import (
	"context"
)

// TagEvent is one raw hardware read as the driver reports it:
// unfiltered, undeduplicated, possibly repeated many times per second
type TagEvent struct {
	ID             string
	SignalStrength int
}

// Transport is the opaque device driver contract: RFID and QR readers
// both fit it. The coordinator is the only subscriber of the raw
// stream; workflow code never touches the transport directly.
type Transport interface {
	// StartScan powers the reader's inventory loop
	StartScan(ctx context.Context) error

	// StopScan halts the inventory loop; subscriptions stay attached
	StopScan(ctx context.Context) error

	// Subscribe registers callbacks for tag and error events and
	// returns a disposer that detaches both. Events delivered after
	// disposal must be dropped by the driver.
	Subscribe(onTag func(TagEvent), onErr func(error)) (unsubscribe func())
}
