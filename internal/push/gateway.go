// Package push abstracts the provider that delivers notifications to device
// tokens. The dispatcher receives a Gateway at construction time: the SNS
// implementation when platform credentials are configured, the log gateway
// otherwise. Delivery semantics (records, retries, quiet hours) live in the
// dispatcher; a Gateway only performs one send per call.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Gateway sends one notification to one device token. At most one provider
// call happens per Send; retrying is the sweep's job, never the gateway's.
type Gateway interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// LogGateway simulates sends by logging them. Used in development and when
// no push credentials are configured, so the rest of the pipeline (records,
// sent-marking, sweeps) behaves exactly as in production.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway creates a gateway that only logs.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Send logs the would-be notification and reports success.
func (g *LogGateway) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	g.logger.Info("simulated push notification",
		zap.String("token", token),
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("data", data),
	)
	return nil
}
