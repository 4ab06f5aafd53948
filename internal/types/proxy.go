package types

import "time"

// Proxy statuses.
const (
	ProxyActive   = "active"
	ProxyInactive = "inactive"
)

// Proxy is one configured destination and the key its traffic and analysis
// state accumulate under.
type Proxy struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	DestinationURL string     `json:"destination_url"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// Active reports whether the gateway may forward traffic for this proxy.
func (p *Proxy) Active() bool {
	return p.Status == ProxyActive
}
