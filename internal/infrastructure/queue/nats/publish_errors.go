package nats

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// connectivityErrors clear up on their own once the client reconnects.
var connectivityErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

// tagPublishError marks connectivity failures ErrTemporary so the executor
// retries them; bad subjects and oversized payloads stay permanent.
func tagPublishError(subject string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range connectivityErrors {
		if errors.Is(err, target) {
			return domain.WrapError(domain.ErrTemporary, "nats publish "+subject, err)
		}
	}
	return fmt.Errorf("nats publish %s: %w", subject, err)
}
