// Package frostops adapts the FROST threshold signature implementation to
// the service's ThresholdScheme port. The session machine drives the protocol
// state; all curve arithmetic stays inside the FROST library.
package frostops

import (
	"errors"
	"fmt"

	group "github.com/bytemare/crypto"
	"github.com/bytemare/frost"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// Wire encodings are self-describing: a commitment is the signer index byte
// followed by the hiding and binding nonce commitments, a partial signature
// is the signer index byte followed by the signature share scalar.
const (
	commitmentSize = 1 + 2*elementSize
	partialSize    = 1 + scalarSize

	elementSize = 33
	scalarSize  = 32
)

// ParticipantKey is a guardian's long-term FROST signing identity: the
// 1-based signer index and the encoded verification share.
type ParticipantKey struct {
	Index     int
	PublicKey []byte
}

// Scheme implements interfaces.ThresholdScheme on the FROST secp256k1
// ciphersuite.
type Scheme struct {
	conf    *frost.Configuration
	indices map[interfaces.GuardianID]int
	pubKeys map[interfaces.GuardianID]*group.Element
}

// NewScheme creates a scheme bound to a group public key and the registered
// guardians' verification shares.
func NewScheme(groupPublicKey []byte, participants map[interfaces.GuardianID]ParticipantKey) (*Scheme, error) {
	conf := frost.Secp256k1.Configuration()
	g := conf.Ciphersuite.Group

	pk := g.NewElement()
	if err := pk.Decode(groupPublicKey); err != nil {
		return nil, fmt.Errorf("invalid group public key: %w", err)
	}
	conf.GroupPublicKey = pk

	s := &Scheme{
		conf:    conf,
		indices: make(map[interfaces.GuardianID]int, len(participants)),
		pubKeys: make(map[interfaces.GuardianID]*group.Element, len(participants)),
	}

	for id, key := range participants {
		if key.Index < 1 || key.Index > 255 {
			return nil, fmt.Errorf("participant %s: index %d out of range", id, key.Index)
		}
		elem := g.NewElement()
		if err := elem.Decode(key.PublicKey); err != nil {
			return nil, fmt.Errorf("participant %s: invalid verification share: %w", id, err)
		}
		s.indices[id] = key.Index
		s.pubKeys[id] = elem
	}

	return s, nil
}

// ValidateCommitment checks an encoded nonce commitment is well formed and
// belongs to the given participant.
func (s *Scheme) ValidateCommitment(participant interfaces.GuardianID, commitment []byte) error {
	index, ok := s.indices[participant]
	if !ok {
		return fmt.Errorf("unknown participant %s", participant)
	}

	com, err := s.decodeCommitment(commitment)
	if err != nil {
		return err
	}

	if int(commitment[0]) != index {
		return fmt.Errorf("commitment signer index %d does not match participant", commitment[0])
	}

	if com.HidingNonce.IsIdentity() || com.BindingNonce.IsIdentity() {
		return errors.New("commitment contains an identity element")
	}

	return nil
}

// VerifyPartial checks one participant's signature share against the full
// commitment list and message.
func (s *Scheme) VerifyPartial(participant interfaces.GuardianID, partial []byte, commitments [][]byte, message []byte) error {
	pk, ok := s.pubKeys[participant]
	if !ok {
		return fmt.Errorf("unknown participant %s", participant)
	}

	list, err := s.decodeCommitmentList(commitments)
	if err != nil {
		return err
	}

	share, err := s.decodePartial(partial)
	if err != nil {
		return err
	}

	com := list.Get(share.Identifier)
	if com == nil {
		return errors.New("no commitment for signature share signer")
	}

	coordinator := s.conf.Participant(nil, nil)
	if !coordinator.VerifySignatureShare(com, pk, share.SignatureShare, list, message) {
		return errors.New("signature share verification failed")
	}

	return nil
}

// Aggregate combines the signature shares into one signature over the group
// key and verifies the result before returning its encoding.
func (s *Scheme) Aggregate(partials [][]byte, commitments [][]byte, message []byte) ([]byte, error) {
	list, err := s.decodeCommitmentList(commitments)
	if err != nil {
		return nil, err
	}

	shares := make([]*frost.SignatureShare, 0, len(partials))
	for _, raw := range partials {
		share, err := s.decodePartial(raw)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}

	coordinator := s.conf.Participant(nil, nil)
	signature := coordinator.Aggregate(list, message, shares)

	if !frost.Verify(s.conf.Ciphersuite, message, signature, s.conf.GroupPublicKey) {
		return nil, errors.New("aggregate signature failed verification")
	}

	return signature.Encode(), nil
}

func (s *Scheme) decodeCommitment(raw []byte) (*frost.Commitment, error) {
	if len(raw) != commitmentSize {
		return nil, fmt.Errorf("invalid commitment length %d", len(raw))
	}
	if raw[0] == 0 {
		return nil, errors.New("invalid commitment signer index 0")
	}

	g := s.conf.Ciphersuite.Group

	hiding := g.NewElement()
	if err := hiding.Decode(raw[1 : 1+elementSize]); err != nil {
		return nil, fmt.Errorf("invalid hiding nonce commitment: %w", err)
	}

	binding := g.NewElement()
	if err := binding.Decode(raw[1+elementSize:]); err != nil {
		return nil, fmt.Errorf("invalid binding nonce commitment: %w", err)
	}

	return &frost.Commitment{
		Identifier:   s.conf.IDFromInt(int(raw[0])),
		HidingNonce:  hiding,
		BindingNonce: binding,
	}, nil
}

func (s *Scheme) decodeCommitmentList(commitments [][]byte) (frost.CommitmentList, error) {
	list := make(frost.CommitmentList, 0, len(commitments))
	for _, raw := range commitments {
		com, err := s.decodeCommitment(raw)
		if err != nil {
			return nil, err
		}
		list = append(list, com)
	}
	list.Sort()
	return list, nil
}

func (s *Scheme) decodePartial(raw []byte) (*frost.SignatureShare, error) {
	if len(raw) != partialSize {
		return nil, fmt.Errorf("invalid partial signature length %d", len(raw))
	}
	if raw[0] == 0 {
		return nil, errors.New("invalid partial signature signer index 0")
	}

	scalar := s.conf.Ciphersuite.Group.NewScalar()
	if err := scalar.Decode(raw[1:]); err != nil {
		return nil, fmt.Errorf("invalid signature share scalar: %w", err)
	}

	return &frost.SignatureShare{
		Identifier:     s.conf.IDFromInt(int(raw[0])),
		SignatureShare: scalar,
	}, nil
}
