package signing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/shamir"
)

// DefaultRequestTTL bounds how long a reconstruction request stays open.
const DefaultRequestTTL = 5 * time.Minute

// SignPublishFunc signs an event template with the reconstructed secret key
// and publishes it, returning the published event ID. The secret slice is
// wiped by the caller immediately after the function returns.
type SignPublishFunc func(ctx context.Context, secretKey []byte, template []byte) (string, error)

// ReconstructionService runs the one-round temporarily-reconstruct strategy:
// guardians each submit their share, and once threshold valid shares arrive
// the coordinator reassembles the key, signs, publishes and discards the key
// material. Shares and templates live only in process memory; the durable
// store holds request metadata alone.
type ReconstructionService struct {
	store       interfaces.Store
	signPublish SignPublishFunc
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	template   []byte
	shares     map[int]*shamir.Share
	byGuardian map[interfaces.GuardianID]struct{}
}

// NewReconstructionService creates a reconstruction request coordinator.
func NewReconstructionService(store interfaces.Store, signPublish SignPublishFunc, log *slog.Logger) *ReconstructionService {
	return &ReconstructionService{
		store:       store,
		signPublish: signPublish,
		log:         log.With("component", "reconstruction_request"),
		now:         time.Now,
		pending:     make(map[string]*pendingRequest),
	}
}

// CreateRequest persists a new pending request and retains the unsigned event
// template in memory until enough shares arrive.
func (r *ReconstructionService) CreateRequest(ctx context.Context, familyID interfaces.FamilyID, guardians []interfaces.GuardianID, threshold int, template []byte, ttl time.Duration) (*interfaces.ReconstructionRequest, error) {
	if len(guardians) == 0 {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "guardian set must not be empty")
	}
	if threshold < shamir.MinThreshold {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "threshold must be at least %d", shamir.MinThreshold)
	}
	if threshold > len(guardians) {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "threshold %d exceeds guardian count %d", threshold, len(guardians))
	}
	if len(template) == 0 {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "event template must not be empty")
	}

	for _, g := range guardians {
		if err := g.Validate(); err != nil {
			return nil, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid guardian")
		}
	}

	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}

	now := r.now().UTC()
	request := &interfaces.ReconstructionRequest{
		ID:                uuid.New().String(),
		FamilyID:          familyID,
		RequiredGuardians: guardians,
		Threshold:         threshold,
		Status:            interfaces.RequestPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}

	if err := r.store.CreateRequest(ctx, request); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pending[request.ID] = &pendingRequest{
		template:   append([]byte(nil), template...),
		shares:     make(map[int]*shamir.Share),
		byGuardian: make(map[interfaces.GuardianID]struct{}),
	}
	r.mu.Unlock()

	r.log.Info("Reconstruction request created",
		"requestID", request.ID,
		"familyID", familyID.String(),
		"threshold", threshold)

	return request, nil
}

// SubmitShare records one guardian's share. When threshold valid shares are
// present the request completes: the key is reconstructed, the event signed
// and published, and all key material wiped immediately.
func (r *ReconstructionService) SubmitShare(ctx context.Context, requestID string, guardian interfaces.GuardianID, shareIndex int, shareHex string) (*interfaces.ReconstructionRequest, error) {
	request, err := r.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if now.After(request.ExpiresAt) {
		return nil, interfaces.E(interfaces.ErrCodeTimeout, "request %s has expired", requestID)
	}
	if request.Status != interfaces.RequestPending {
		return nil, interfaces.E(interfaces.ErrCodeState, "request %s is not accepting shares in status %s", requestID, request.Status)
	}

	isRequired := false
	for _, g := range request.RequiredGuardians {
		if g == guardian {
			isRequired = true
			break
		}
	}
	if !isRequired {
		return nil, interfaces.E(interfaces.ErrCodeValidation, "guardian is not part of request %s", requestID)
	}

	share, err := shamir.NewShareFromHex(shareIndex, shareHex, requestID)
	if err != nil {
		return nil, interfaces.WrapErr(interfaces.ErrCodeValidation, err, "invalid share")
	}

	var ready *pendingRequest
	r.mu.Lock()
	state, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		share.Wipe()
		return nil, interfaces.E(interfaces.ErrCodeNotFound, "request %s is not held by this coordinator", requestID)
	}
	if _, dup := state.byGuardian[guardian]; dup {
		r.mu.Unlock()
		share.Wipe()
		return nil, interfaces.E(interfaces.ErrCodeReplay, "guardian already submitted a share for request %s", requestID)
	}
	if _, dup := state.shares[share.Index]; dup {
		r.mu.Unlock()
		share.Wipe()
		return nil, interfaces.E(interfaces.ErrCodeReplay, "share index %d already submitted for request %s", share.Index, requestID)
	}
	state.byGuardian[guardian] = struct{}{}
	state.shares[share.Index] = share
	have := len(state.shares)
	if have >= request.Threshold {
		// Withdraw the state so no further shares race with completion.
		delete(r.pending, requestID)
		ready = state
	}
	r.mu.Unlock()

	if ready == nil {
		r.log.Debug("Share accepted", "requestID", requestID, "have", have, "need", request.Threshold)
		return request, nil
	}

	return r.complete(ctx, request, ready)
}

// complete reconstructs the key, signs and publishes, then discards the key.
func (r *ReconstructionService) complete(ctx context.Context, request *interfaces.ReconstructionRequest, state *pendingRequest) (*interfaces.ReconstructionRequest, error) {
	shares := make([]*shamir.Share, 0, len(state.shares))
	for _, s := range state.shares {
		shares = append(shares, s)
	}
	defer shamir.WipeShares(shares)

	secret, err := shamir.Reconstruct(shares)
	if err != nil {
		return nil, r.fail(ctx, request.ID, interfaces.WrapErr(interfaces.ErrCodeAggregation, err, "key reconstruction failed"))
	}

	var eventID string
	signErr := shamir.WithSecret(secret, func(secretKey []byte) error {
		var err error
		eventID, err = r.signPublish(ctx, secretKey, state.template)
		return err
	})
	if signErr != nil {
		return nil, r.fail(ctx, request.ID, interfaces.WrapErr(interfaces.ErrCodeAggregation, signErr, "signing failed"))
	}

	updated, err := r.store.UpdateRequest(ctx, request.ID, []interfaces.RequestStatus{interfaces.RequestPending}, func(req *interfaces.ReconstructionRequest) error {
		req.Status = interfaces.RequestCompleted
		req.FinalEventID = eventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("Reconstruction request completed", "requestID", request.ID, "eventID", eventID)
	return updated, nil
}

// FailRequest moves a pending request to failed and drops any held shares.
func (r *ReconstructionService) FailRequest(ctx context.Context, requestID, reason string) error {
	r.dropPending(requestID)

	_, err := r.store.UpdateRequest(ctx, requestID, []interfaces.RequestStatus{interfaces.RequestPending}, func(req *interfaces.ReconstructionRequest) error {
		req.Status = interfaces.RequestFailed
		req.ErrorMessage = reason
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Warn("Reconstruction request failed", "requestID", requestID, "reason", reason)
	return nil
}

// GetRequest loads a request by ID.
func (r *ReconstructionService) GetRequest(ctx context.Context, requestID string) (*interfaces.ReconstructionRequest, error) {
	return r.store.GetRequest(ctx, requestID)
}

// ExpireOldRequests reconciles pending requests past their expiry into the
// expired state and wipes any shares still held for them.
func (r *ReconstructionService) ExpireOldRequests(ctx context.Context) (int64, error) {
	now := r.now().UTC()

	swept, err := r.store.ExpireRequests(ctx, now)
	if err != nil {
		return 0, err
	}

	// Reconcile the in-memory state with the store.
	r.mu.Lock()
	for id, state := range r.pending {
		request, err := r.store.GetRequest(ctx, id)
		if err != nil || request.Status.Terminal() {
			for _, s := range state.shares {
				s.Wipe()
			}
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	if swept > 0 {
		r.log.Info("Expired stale reconstruction requests", "count", swept)
	}
	return swept, nil
}

func (r *ReconstructionService) fail(ctx context.Context, requestID string, cause error) error {
	_, err := r.store.UpdateRequest(ctx, requestID, []interfaces.RequestStatus{interfaces.RequestPending}, func(req *interfaces.ReconstructionRequest) error {
		req.Status = interfaces.RequestFailed
		req.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil {
		r.log.Error("Failed to record request failure", "requestID", requestID, "err", err)
	}
	return cause
}

func (r *ReconstructionService) dropPending(requestID string) {
	r.mu.Lock()
	if state, ok := r.pending[requestID]; ok {
		for _, s := range state.shares {
			s.Wipe()
		}
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
}
