package rotation

import (
	"fmt"
	"time"
)

// StepName identifies one step of the rotation verification checklist.
type StepName string

// The fixed checklist steps, in execution order.
const (
	StepDelegationPublication StepName = "delegation_publication"
	StepProfileUpdate         StepName = "profile_update"
	StepIdentifierUpdate      StepName = "identifier_update"
	StepPaymentAddressUpdate  StepName = "payment_address_update"
	StepContactNotification   StepName = "contact_notification"
	StepDeprecationNotice     StepName = "deprecation_notice"
	StepDurableStorageUpdate  StepName = "durable_storage_update"
	StepAuditRecord           StepName = "audit_record"
)

// StepStatus is the completion state of one checklist step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// OverallStatus is the checklist's aggregate outcome.
type OverallStatus string

const (
	// StatusVerified means every step completed.
	StatusVerified OverallStatus = "verified"

	// StatusPartial means no step failed but not all completed.
	StatusPartial OverallStatus = "partial"

	// StatusFailed means at least one step failed.
	StatusFailed OverallStatus = "failed"
)

// Step is one named checklist entry.
type Step struct {
	Name        StepName
	Description string
	Critical    bool
	Status      StepStatus
	CompletedAt *time.Time
	Error       string
}

// Checklist is the ordered list of steps a rotation must complete. It is
// created fresh per rotation. Three steps are critical: until the delegation
// is published, the profile updated and durable storage rewritten, the
// rotation is not safe to consider finished.
type Checklist struct {
	steps []*Step
	now   func() time.Time
}

// NewChecklist creates the fixed eight-step checklist with all steps pending.
func NewChecklist() *Checklist {
	c := &Checklist{
		now: time.Now,
		steps: []*Step{
			{Name: StepDelegationPublication, Critical: true,
				Description: "publish the delegation event transferring authority to the new key"},
			{Name: StepProfileUpdate, Critical: true,
				Description: "update the identity profile to reference the new key"},
			{Name: StepIdentifierUpdate,
				Description: "update the external identifier mapping"},
			{Name: StepPaymentAddressUpdate,
				Description: "update the payment address record"},
			{Name: StepContactNotification,
				Description: "notify known contacts of the key change"},
			{Name: StepDeprecationNotice,
				Description: "publish the deprecation notice for the old key"},
			{Name: StepDurableStorageUpdate, Critical: true,
				Description: "rewrite durable storage with the new key material"},
			{Name: StepAuditRecord,
				Description: "record the rotation in the audit trail"},
		},
	}
	for _, s := range c.steps {
		s.Status = StepPending
	}
	return c
}

// Steps returns the checklist steps in order.
func (c *Checklist) Steps() []*Step {
	return c.steps
}

func (c *Checklist) find(name StepName) (*Step, error) {
	for _, s := range c.steps {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown checklist step %q", name)
}

// MarkCompleted marks a step completed.
func (c *Checklist) MarkCompleted(name StepName) error {
	step, err := c.find(name)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	step.Status = StepCompleted
	step.CompletedAt = &now
	step.Error = ""
	return nil
}

// MarkFailed marks a step failed with a reason.
func (c *Checklist) MarkFailed(name StepName, reason string) error {
	step, err := c.find(name)
	if err != nil {
		return err
	}
	step.Status = StepFailed
	step.Error = reason
	return nil
}

// MarkSkipped marks a step deliberately skipped.
func (c *Checklist) MarkSkipped(name StepName) error {
	step, err := c.find(name)
	if err != nil {
		return err
	}
	step.Status = StepSkipped
	return nil
}

// CalculateOverallStatus derives the aggregate outcome: failed if any step
// failed, verified if all completed, otherwise partial.
func (c *Checklist) CalculateOverallStatus() OverallStatus {
	completed := 0
	for _, s := range c.steps {
		switch s.Status {
		case StepFailed:
			return StatusFailed
		case StepCompleted:
			completed++
		}
	}
	if completed == len(c.steps) {
		return StatusVerified
	}
	return StatusPartial
}

// Issue is one problem found while summarizing a checklist.
type Issue struct {
	Step     StepName
	Severity string
	Message  string
}

// Summary is the verification result for one rotation.
type Summary struct {
	Overall          OverallStatus
	CompletedSteps   int
	TotalSteps       int
	CompletionPct    int
	Issues           []Issue
	CriticalFailures bool
}

// Summarize computes the verification summary. Regardless of the completion
// percentage, any critical step not completed yields a critical issue: the
// rotation is not actually safe to consider finished.
func (c *Checklist) Summarize() Summary {
	summary := Summary{
		Overall:    c.CalculateOverallStatus(),
		TotalSteps: len(c.steps),
	}

	for _, s := range c.steps {
		if s.Status == StepCompleted {
			summary.CompletedSteps++
			continue
		}

		severity := "warning"
		if s.Critical {
			severity = "critical"
			summary.CriticalFailures = true
		}

		message := fmt.Sprintf("step %s is %s", s.Name, s.Status)
		if s.Error != "" {
			message = fmt.Sprintf("%s: %s", message, s.Error)
		}
		summary.Issues = append(summary.Issues, Issue{Step: s.Name, Severity: severity, Message: message})
	}

	if summary.TotalSteps > 0 {
		summary.CompletionPct = summary.CompletedSteps * 100 / summary.TotalSteps
	}
	return summary
}
