package approval

import (
	"fmt"
	"strings"
)

// DefinitionName is the registered name of the approval workflow
const DefinitionName = "approval-workflow"

// ChannelPath is the realtime channel approval events are published on
const ChannelPath = "/workflow"

// Step names
const (
	StepInitialApproval   = "initialApproval"
	StepWaitForUserChoice = "waitForUserChoice"
	StepFinalApproval     = "finalApproval"
	StepEnd               = "end"
)

// Realtime and domain history event types
const (
	EventApprovalGranted = "approval_granted"
	EventApprovalDenied  = "approval_denied"
	EventFinalApproval   = "final_approval"
	EventFinalDenial     = "final_denial"
)

// State keys
const (
	KeyUserID          = "userId"
	KeyUserName        = "userName"
	KeyApplication     = "applicationData"
	KeyApprovalChance  = "approvalChance"
	KeyUserChoice      = "userChoice"
	KeyFinalResult     = "finalResult"
	KeyApprovalHistory = "approvalHistory"
)

// Configuration choices offered after initial approval
const (
	ChoiceStandard     = "standard"
	ChoiceProfessional = "professional"
	ChoicePremium      = "premium"
)

// DefaultApprovalChance is the initial approval rate
const DefaultApprovalChance = 0.8

// choiceChances is the final approval rate per configuration
var choiceChances = map[string]float64{
	ChoiceStandard:     0.95,
	ChoiceProfessional: 0.9,
	ChoicePremium:      0.6,
}

// denialReasons explains a final denial per configuration
var denialReasons = map[string]string{
	ChoicePremium:      "Premium configuration exceeds approved budget",
	ChoiceProfessional: "Professional configuration not available",
	ChoiceStandard:     "Standard configuration out of stock",
}

// ValidChoice reports whether choice is an offered configuration
func ValidChoice(choice string) bool {
	_, ok := choiceChances[choice]
	return ok
}

// Application is the equipment request under review
type Application struct {
	Item           string `json:"item"`
	Justification  string `json:"justification,omitempty"`
	Specifications string `json:"specifications,omitempty"`
}

// SubmitRequest starts an approval
type SubmitRequest struct {
	// Optional caller-chosen instance id, so a client can register its
	// listener before the first event is published
	WorkflowID string `json:"workflowId,omitempty"`

	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	Item           string `json:"item"`
	Justification  string `json:"justification,omitempty"`
	Specifications string `json:"specifications,omitempty"`
}

// Validate checks the required fields
func (r SubmitRequest) Validate() error {
	var missing []string
	if r.UserID == "" {
		missing = append(missing, "userId")
	}
	if r.UserName == "" {
		missing = append(missing, "userName")
	}
	if r.Item == "" {
		missing = append(missing, "item")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Application returns the application part of the request
func (r SubmitRequest) Application() Application {
	return Application{
		Item:           r.Item,
		Justification:  r.Justification,
		Specifications: r.Specifications,
	}
}

// ChoiceRequest carries the user's configuration choice
type ChoiceRequest struct {
	Choice string `json:"choice"`
}

// FinalResult is written to state when the workflow ends
type FinalResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// HistoryEvent is one domain event recorded in state
type HistoryEvent struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
