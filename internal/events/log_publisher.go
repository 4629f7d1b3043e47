// Package events holds publishers for ledger events that are not tied to a broker.
package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log instead of a broker. It is used when
// no brokers are configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	if p.Logger != nil {
		p.Logger.Debug("ledger event", zap.String("topic", topic), zap.String("key", key), zap.Any("event", event))
	}
	return nil
}
