package publishers

import "time"

// Event describes a completed relay call. It is what every sink delivers.
type Event struct {
	CallID      string    `json:"call_id"`
	ProfileID   string    `json:"profile_id,omitempty"`
	ClientIP    string    `json:"client_ip,omitempty"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// attributes returns the routing attributes attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	attrs := map[string]string{
		"call_id": e.CallID,
		"status":  e.Status,
	}
	if e.ProfileID != "" {
		attrs["profile_id"] = e.ProfileID
	}
	return attrs
}
