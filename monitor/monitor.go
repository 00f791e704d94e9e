// Package monitor derives operational health from stored signing state and
// runs the background sweeps that keep it bounded: expiry transitions for
// overdue sessions and requests, and retention pruning for terminal rows.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

const (
	// DefaultMetricsWindow is how far back health metrics look.
	DefaultMetricsWindow = 24 * time.Hour

	// DefaultRetention is how long terminal sessions and requests are kept
	// before pruning.
	DefaultRetention = 30 * 24 * time.Hour

	// alertFailureRate is the completed-attempt failure rate above which the
	// service is considered unhealthy.
	alertFailureRate = 0.5

	// alertMinAttempts suppresses alerts until enough attempts exist for the
	// rate to mean anything.
	alertMinAttempts = 5
)

// Metrics summarizes signing outcomes over a time window. Session counts
// cover the multi-round protocol, request counts the reconstruction path.
type Metrics struct {
	Window             time.Duration `json:"window_seconds"`
	SessionsCreated    int64         `json:"sessions_created"`
	SessionsCompleted  int64         `json:"sessions_completed"`
	SessionsFailed     int64         `json:"sessions_failed"`
	SessionsExpired    int64         `json:"sessions_expired"`
	SessionsInFlight   int64         `json:"sessions_in_flight"`
	RequestsCreated    int64         `json:"requests_created"`
	RequestsCompleted  int64         `json:"requests_completed"`
	RequestsFailed     int64         `json:"requests_failed"`
	RequestsExpired    int64         `json:"requests_expired"`
	RequestsInFlight   int64         `json:"requests_in_flight"`
	SessionSuccessRate float64       `json:"session_success_rate"`
	RequestSuccessRate float64       `json:"request_success_rate"`
}

// Activity is one recent signing attempt, session or request.
type Activity struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Monitor reads health from the store and runs maintenance sweeps.
type Monitor struct {
	store     interfaces.Store
	log       *slog.Logger
	window    time.Duration
	retention time.Duration
	now       func() time.Time
}

// New creates a monitor with the default window and retention.
func New(store interfaces.Store, log *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		log:       log,
		window:    DefaultMetricsWindow,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetMetrics computes outcome counts and success rates over the window.
// Success rates divide completions by finished attempts only, so a backlog of
// in-flight sessions does not read as failure.
func (m *Monitor) GetMetrics(ctx context.Context) (*Metrics, error) {
	since := m.now().Add(-m.window)

	sessionCounts, err := m.store.CountSessionsByStatus(ctx, since)
	if err != nil {
		return nil, err
	}
	requestCounts, err := m.store.CountRequestsByStatus(ctx, since)
	if err != nil {
		return nil, err
	}

	metrics := &Metrics{
		Window:            m.window,
		SessionsCompleted: sessionCounts[interfaces.SessionCompleted],
		SessionsFailed:    sessionCounts[interfaces.SessionFailed],
		SessionsExpired:   sessionCounts[interfaces.SessionExpired],
		RequestsCompleted: requestCounts[interfaces.RequestCompleted],
		RequestsFailed:    requestCounts[interfaces.RequestFailed],
		RequestsExpired:   requestCounts[interfaces.RequestExpired],
	}
	for status, n := range sessionCounts {
		metrics.SessionsCreated += n
		if !status.Terminal() {
			metrics.SessionsInFlight += n
		}
	}
	for status, n := range requestCounts {
		metrics.RequestsCreated += n
		if !status.Terminal() {
			metrics.RequestsInFlight += n
		}
	}

	metrics.SessionSuccessRate = successRate(metrics.SessionsCompleted, metrics.SessionsFailed+metrics.SessionsExpired)
	metrics.RequestSuccessRate = successRate(metrics.RequestsCompleted, metrics.RequestsFailed+metrics.RequestsExpired)
	return metrics, nil
}

func successRate(completed, unsuccessful int64) float64 {
	finished := completed + unsuccessful
	if finished == 0 {
		return 1.0
	}
	return float64(completed) / float64(finished)
}

// ShouldAlert reports whether finished signing attempts in the window are
// failing at an alarming rate, with the reasons.
func (m *Monitor) ShouldAlert(ctx context.Context) (bool, []string, error) {
	metrics, err := m.GetMetrics(ctx)
	if err != nil {
		return false, nil, err
	}

	var reasons []string
	sessionFinished := metrics.SessionsCompleted + metrics.SessionsFailed + metrics.SessionsExpired
	if sessionFinished >= alertMinAttempts && metrics.SessionSuccessRate < 1.0-alertFailureRate {
		reasons = append(reasons, "session failure rate over threshold")
	}
	requestFinished := metrics.RequestsCompleted + metrics.RequestsFailed + metrics.RequestsExpired
	if requestFinished >= alertMinAttempts && metrics.RequestSuccessRate < 1.0-alertFailureRate {
		reasons = append(reasons, "reconstruction failure rate over threshold")
	}
	return len(reasons) > 0, reasons, nil
}

// GetRecentActivity returns the latest signing attempts of both kinds,
// newest first, up to limit.
func (m *Monitor) GetRecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	since := m.now().Add(-m.window)

	sessions, err := m.store.ListSessionsSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	requests, err := m.store.ListRequestsSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	activity := make([]Activity, 0, len(sessions)+len(requests))
	for _, s := range sessions {
		activity = append(activity, Activity{
			Kind:      "session",
			ID:        s.ID,
			FamilyID:  s.FamilyID.String(),
			Status:    string(s.Status),
			CreatedAt: s.CreatedAt,
		})
	}
	for _, r := range requests {
		activity = append(activity, Activity{
			Kind:      "request",
			ID:        r.ID,
			FamilyID:  r.FamilyID.String(),
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt,
		})
	}

	sort.Slice(activity, func(i, j int) bool { return activity[i].CreatedAt.After(activity[j].CreatedAt) })
	if limit > 0 && len(activity) > limit {
		activity = activity[:limit]
	}
	return activity, nil
}

// Sweep expires overdue sessions and requests and prunes terminal rows past
// retention. Safe to call from multiple instances; the store's conditional
// updates make the transitions idempotent.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := m.now()

	expiredSessions, err := m.store.ExpireSessions(ctx, now)
	if err != nil {
		return err
	}
	expiredRequests, err := m.store.ExpireRequests(ctx, now)
	if err != nil {
		return err
	}

	cutoff := now.Add(-m.retention)
	prunedSessions, err := m.store.DeleteTerminalSessionsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	prunedRequests, err := m.store.DeleteTerminalRequestsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	if expiredSessions+expiredRequests+prunedSessions+prunedRequests > 0 {
		m.log.Info("maintenance sweep",
			slog.Int64("expired_sessions", expiredSessions),
			slog.Int64("expired_requests", expiredRequests),
			slog.Int64("pruned_sessions", prunedSessions),
			slog.Int64("pruned_requests", prunedRequests))
	}
	return nil
}

// RunSweeper runs Sweep on the given interval until the context is cancelled.
func (m *Monitor) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.log.Error("maintenance sweep failed", "err", err)
			}
		}
	}
}
