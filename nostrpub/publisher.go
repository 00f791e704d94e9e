// Package nostrpub publishes signed events to Nostr relays and delivers
// guardian notifications as encrypted direct messages.
package nostrpub

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// RelayPublisher broadcasts events to a set of relays. Publishing succeeds if
// at least one relay accepts the event.
type RelayPublisher struct {
	relays []string
	log    *slog.Logger
}

// NewRelayPublisher creates a publisher for the given relay URLs.
func NewRelayPublisher(relays []string, log *slog.Logger) (*RelayPublisher, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("at least one relay URL is required")
	}
	return &RelayPublisher{relays: relays, log: log}, nil
}

// Publish broadcasts a signed event, returning its event ID.
func (p *RelayPublisher) Publish(ctx context.Context, rawEvent []byte) (string, error) {
	var event nostr.Event
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return "", interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed event")
	}
	if ok, err := event.CheckSignature(); err != nil || !ok {
		return "", interfaces.E(interfaces.ErrCodeValidation, "event signature does not verify")
	}

	if err := p.broadcast(ctx, event); err != nil {
		return "", err
	}
	return event.ID, nil
}

func (p *RelayPublisher) broadcast(ctx context.Context, event nostr.Event) error {
	var accepted int
	var lastErr error
	for _, url := range p.relays {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			p.log.Warn("could not connect to relay", slog.String("relay", url), "err", err)
			lastErr = err
			continue
		}

		err = relay.Publish(ctx, event)
		relay.Close()
		if err != nil {
			p.log.Warn("relay rejected event", slog.String("relay", url), "err", err)
			lastErr = err
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return interfaces.WrapErr(interfaces.ErrCodePersistence, lastErr, "no relay accepted the event")
	}
	p.log.Debug("event published",
		slog.String("eventID", event.ID),
		slog.Int("relays", accepted))
	return nil
}

// SignPublishFunc returns a callback that signs an unsigned event template
// with an ephemeral secret key and broadcasts it. The key is only borrowed;
// the caller wipes it after the callback returns.
func (p *RelayPublisher) SignPublishFunc() func(ctx context.Context, secretKey []byte, template []byte) (string, error) {
	return func(ctx context.Context, secretKey []byte, template []byte) (string, error) {
		var event nostr.Event
		if err := json.Unmarshal(template, &event); err != nil {
			return "", interfaces.WrapErr(interfaces.ErrCodeValidation, err, "malformed event template")
		}
		if event.CreatedAt == 0 {
			event.CreatedAt = nostr.Now()
		}

		if err := event.Sign(hex.EncodeToString(secretKey)); err != nil {
			return "", interfaces.WrapErr(interfaces.ErrCodeValidation, err, "could not sign event")
		}

		if err := p.broadcast(ctx, event); err != nil {
			return "", err
		}
		return event.ID, nil
	}
}
