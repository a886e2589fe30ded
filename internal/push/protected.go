package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/circuitbreaker"
)

// ProtectedGateway wraps a Gateway with a circuit breaker. While the
// provider is failing, sends fail fast with ErrCircuitOpen instead of piling
// up against a dead endpoint; the dispatcher records those as failed
// deliveries like any other gateway error.
type ProtectedGateway struct {
	gateway Gateway
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedGateway wraps a gateway with circuit breaker protection.
func NewProtectedGateway(gateway Gateway, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		gateway: gateway,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a send through the circuit breaker.
func (p *ProtectedGateway) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected push send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: push provider unavailable", circuitbreaker.ErrCircuitOpen)
	}

	if err := p.gateway.Send(ctx, token, title, body, data); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the underlying circuit breaker for monitoring.
func (p *ProtectedGateway) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
