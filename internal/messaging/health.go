package messaging

import (
	"context"
	"time"
)

// HealthStatus reports the state of a broker connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
}

// CheckClientHealth reports whether client is connected and measures a round
// trip to the server. A missing responder still proves the link works.
func CheckClientHealth(ctx context.Context, client Client) HealthStatus {
	var status HealthStatus
	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	start := time.Now()
	_, _ = client.Request(ctx, "_HEALTH.ping", []byte("ping"), 2*time.Second)
	status.Latency = time.Since(start)
	return status
}
