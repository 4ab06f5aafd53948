package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/apiscope/internal/types"
)

// CallSummary is the live-feed view of a captured call. Bodies are left
// out; clients fetch the full record from the calls endpoint.
type CallSummary struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// TunnelState is published when a websocket tunnel opens or closes.
type TunnelState struct {
	State     string `json:"state"`
	TargetURL string `json:"target_url"`
	Reason    string `json:"reason,omitempty"`
}

// Feed publishes capture and tunnel activity to a Broker.
type Feed struct {
	broker *Broker
}

func NewFeed(broker *Broker) *Feed {
	return &Feed{broker: broker}
}

// PublishCall announces a recorded call.
func (f *Feed) PublishCall(call *types.CapturedCall) {
	f.publish(call.ProxyID, KindCall, CallSummary{
		ID:         call.ID,
		Source:     call.Source,
		Method:     call.Method,
		URL:        call.URL,
		Status:     call.Status(),
		DurationMS: call.DurationMS,
		Timestamp:  call.Timestamp,
	})
}

// PublishTunnel announces a tunnel state change.
func (f *Feed) PublishTunnel(proxyID string, st TunnelState) {
	f.publish(proxyID, KindTunnel, st)
}

func (f *Feed) publish(proxyID, kind string, v any) {
	if f == nil || f.broker == nil || f.broker.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("Failed to marshal live event", "kind", kind, "error", err)
		return
	}
	f.broker.Publish(Event{ProxyID: proxyID, Kind: kind, Payload: string(data)})
}
