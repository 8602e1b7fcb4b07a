package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// Message is a fully rendered send handed to the delivery provider.
type Message struct {
	TenantID         string
	CampaignID       int
	NodeID           string
	ContactID        string
	To               string
	Channel          model.Channel
	Subject          string
	Body             string
	SenderIdentityID string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs messages. Used until a provider is wired in.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Info("✉️ message sent",
		zap.String("tenant_id", msg.TenantID),
		zap.Int("campaign_id", msg.CampaignID),
		zap.String("node", msg.NodeID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
