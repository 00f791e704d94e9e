package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChecklistShape(t *testing.T) {
	c := NewChecklist()
	steps := c.Steps()
	require.Len(t, steps, 8)

	critical := map[StepName]bool{}
	for _, s := range steps {
		assert.Equal(t, StepPending, s.Status)
		if s.Critical {
			critical[s.Name] = true
		}
	}
	assert.Equal(t, map[StepName]bool{
		StepDelegationPublication: true,
		StepProfileUpdate:         true,
		StepDurableStorageUpdate:  true,
	}, critical)
}

func TestChecklistStatusTransitions(t *testing.T) {
	c := NewChecklist()

	require.NoError(t, c.MarkCompleted(StepProfileUpdate))
	require.NoError(t, c.MarkFailed(StepContactNotification, "relay down"))
	require.NoError(t, c.MarkSkipped(StepPaymentAddressUpdate))
	assert.Error(t, c.MarkCompleted("no_such_step"))

	for _, s := range c.Steps() {
		switch s.Name {
		case StepProfileUpdate:
			assert.Equal(t, StepCompleted, s.Status)
			assert.NotNil(t, s.CompletedAt)
		case StepContactNotification:
			assert.Equal(t, StepFailed, s.Status)
			assert.Equal(t, "relay down", s.Error)
		case StepPaymentAddressUpdate:
			assert.Equal(t, StepSkipped, s.Status)
		}
	}
}

func TestCalculateOverallStatus(t *testing.T) {
	c := NewChecklist()
	assert.Equal(t, StatusPartial, c.CalculateOverallStatus())

	for _, s := range c.Steps() {
		require.NoError(t, c.MarkCompleted(s.Name))
	}
	assert.Equal(t, StatusVerified, c.CalculateOverallStatus())

	require.NoError(t, c.MarkFailed(StepDeprecationNotice, "rejected"))
	assert.Equal(t, StatusFailed, c.CalculateOverallStatus())
}

func TestSummarizeCriticalGating(t *testing.T) {
	c := NewChecklist()

	// Complete everything except one critical step, skipped.
	for _, s := range c.Steps() {
		if s.Name == StepDurableStorageUpdate {
			require.NoError(t, c.MarkSkipped(s.Name))
			continue
		}
		require.NoError(t, c.MarkCompleted(s.Name))
	}

	summary := c.Summarize()
	assert.Equal(t, StatusPartial, summary.Overall)
	assert.Equal(t, 7, summary.CompletedSteps)
	assert.Equal(t, 87, summary.CompletionPct)
	assert.True(t, summary.CriticalFailures)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "critical", summary.Issues[0].Severity)
	assert.Equal(t, StepDurableStorageUpdate, summary.Issues[0].Step)
}

func TestSummarizeNonCriticalIssuesAreWarnings(t *testing.T) {
	c := NewChecklist()
	for _, s := range c.Steps() {
		if s.Name == StepContactNotification {
			require.NoError(t, c.MarkFailed(s.Name, "relay down"))
			continue
		}
		require.NoError(t, c.MarkCompleted(s.Name))
	}

	summary := c.Summarize()
	assert.Equal(t, StatusFailed, summary.Overall)
	assert.False(t, summary.CriticalFailures)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "warning", summary.Issues[0].Severity)
	assert.Contains(t, summary.Issues[0].Message, "relay down")
}

func TestSummarizeAllComplete(t *testing.T) {
	c := NewChecklist()
	for _, s := range c.Steps() {
		require.NoError(t, c.MarkCompleted(s.Name))
	}

	summary := c.Summarize()
	assert.Equal(t, StatusVerified, summary.Overall)
	assert.Equal(t, 100, summary.CompletionPct)
	assert.False(t, summary.CriticalFailures)
	assert.Empty(t, summary.Issues)
}
