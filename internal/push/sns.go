package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSGateway delivers push notifications through AWS SNS platform
// endpoints. Device tokens are SNS endpoint ARNs created by the mobile and
// watch clients against the app's platform application.
type SNSGateway struct {
	client *sns.Client
	logger *zap.Logger
}

// SNSConfig holds AWS settings for the push gateway.
type SNSConfig struct {
	Region string
}

// NewSNSGateway creates a gateway backed by AWS SNS.
func NewSNSGateway(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSGateway{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// message is the platform payload published to the endpoint.
type message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send publishes one notification to a device endpoint. No retry happens
// inside this call; a failure is reported to the dispatcher as-is.
func (g *SNSGateway) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(message{Title: title, Body: body, Data: data})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	out, err := g.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(token),
		Message:   aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	g.logger.Info("push notification published",
		zap.String("title", title),
		zap.Stringp("message_id", out.MessageId),
	)

	return nil
}
