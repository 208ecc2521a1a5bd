package domain

type StreamStatus string

const (
	StreamScheduled StreamStatus = "scheduled"
	StreamLive      StreamStatus = "live"
	StreamEnded     StreamStatus = "ended"
)

// AccessType is the entitlement tier a stream requires from viewers.
type AccessType string

const (
	AccessFree       AccessType = "free"
	AccessSubscriber AccessType = "subscriber"
	AccessPaid       AccessType = "paid"
)

type Stream struct {
	ID      string       `json:"id"`
	OwnerID UserID       `json:"owner_id"`
	Title   string       `json:"title"`
	Status  StreamStatus `json:"status"`
	Access  AccessType   `json:"access_type"`
}
