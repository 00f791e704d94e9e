package nostrpub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// DMNotifier delivers notifications as NIP-04 encrypted direct messages from
// the service identity to a guardian's pubkey.
type DMNotifier struct {
	publisher  *RelayPublisher
	serviceKey string
	servicePub string
	log        *slog.Logger
}

// NewDMNotifier creates a notifier sending from the given service secret key.
func NewDMNotifier(publisher *RelayPublisher, serviceKeyHex string, log *slog.Logger) (*DMNotifier, error) {
	pub, err := nostr.GetPublicKey(serviceKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid service key: %w", err)
	}
	return &DMNotifier{
		publisher:  publisher,
		serviceKey: serviceKeyHex,
		servicePub: pub,
		log:        log,
	}, nil
}

// Notify sends an encrypted direct message to the user's pubkey.
func (n *DMNotifier) Notify(ctx context.Context, userID, subject, body string) error {
	if err := interfaces.GuardianID(userID).Validate(); err != nil {
		return interfaces.WrapErr(interfaces.ErrCodeValidation, err, "notification recipient must be a hex pubkey")
	}

	shared, err := nip04.ComputeSharedSecret(userID, n.serviceKey)
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodeValidation, err, "could not derive message key")
	}
	ciphertext, err := nip04.Encrypt(subject+"\n\n"+body, shared)
	if err != nil {
		return interfaces.WrapErr(interfaces.ErrCodeValidation, err, "could not encrypt message")
	}

	event := nostr.Event{
		PubKey:    n.servicePub,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{nostr.Tag{"p", userID}},
		Content:   ciphertext,
	}
	if err := event.Sign(n.serviceKey); err != nil {
		return interfaces.WrapErr(interfaces.ErrCodeValidation, err, "could not sign message")
	}

	if err := n.publisher.broadcast(ctx, event); err != nil {
		return err
	}
	n.log.Debug("notification sent", slog.String("recipient", userID))
	return nil
}
