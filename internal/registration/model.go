package registration

import "time"

// Transport values stored with each registration.
const (
	TransportAPNs    = "apns"
	TransportWebPush = "webpush"
)

// WebPushPassTypeID is the pass type under which browser subscriptions are stored.
const WebPushPassTypeID = "web.push"

// Registration binds one device to one pass. PushToken may be empty when the
// device registered without routing info.
type Registration struct {
	DeviceID     string
	PassTypeID   string
	Serial       string
	PushToken    string
	Transport    string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Key identifies a registration.
type Key struct {
	DeviceID   string
	PassTypeID string
	Serial     string
}

// Key returns the composite key of r.
func (r Registration) Key() Key {
	return Key{DeviceID: r.DeviceID, PassTypeID: r.PassTypeID, Serial: r.Serial}
}
