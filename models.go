package waitflow

import (
	"time"
)

// Status represents the lifecycle state of a workflow instance
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if the status is a final state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true if the instance counts against the concurrency cap
func (s Status) IsActive() bool {
	return s == StatusCreated || s == StatusRunning || s == StatusWaiting
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// ActiveStatuses are the statuses counted by the concurrency cap
var ActiveStatuses = []Status{StatusCreated, StatusRunning, StatusWaiting}

// History entry types
const (
	HistoryInstanceCreated   = "instance_created"
	HistoryInstanceStarted   = "instance_started"
	HistoryStepStarted       = "step_started"
	HistoryStepAttemptFailed = "step_attempt_failed"
	HistoryStepCompleted     = "step_completed"
	HistoryInstanceWaiting   = "instance_waiting"
	HistoryInstanceContinued = "instance_continued"
	HistoryStateUpdated      = "state_updated"
	HistoryInstanceRecovered = "instance_recovered"
	HistoryInstanceCompleted = "instance_completed"
	HistoryInstanceFailed    = "instance_failed"
)

// HistoryEntry is one append-only record of an engine transition.
// Status and CurrentStep hold the values after the transition was applied.
type HistoryEntry struct {
	Type        string         `json:"type" dynamodbav:"type"`
	Timestamp   time.Time      `json:"timestamp" dynamodbav:"timestamp"`
	Step        string         `json:"step,omitempty" dynamodbav:"step,omitempty"`
	Status      Status         `json:"status" dynamodbav:"status"`
	CurrentStep string         `json:"currentStep,omitempty" dynamodbav:"current_step,omitempty"`
	Attempt     int            `json:"attempt,omitempty" dynamodbav:"attempt,omitempty"`
	Data        map[string]any `json:"data,omitempty" dynamodbav:"data,omitempty"`
}

// Instance is one execution of a Definition
type Instance struct {
	// Identity
	ID             string `json:"id" dynamodbav:"id"`
	DefinitionName string `json:"definitionName" dynamodbav:"definition_name"`

	// Execution position; empty once the instance is terminal
	CurrentStep string `json:"currentStep,omitempty" dynamodbav:"current_step,omitempty"`
	Status      Status `json:"status" dynamodbav:"status"`

	// Business data threaded between steps
	State State `json:"state" dynamodbav:"state"`

	History  []HistoryEntry `json:"history" dynamodbav:"history"`
	WaitInfo map[string]any `json:"waitInfo,omitempty" dynamodbav:"wait_info,omitempty"`
	Error    *WorkflowError `json:"error,omitempty" dynamodbav:"error,omitempty"`

	// Optimistic concurrency counter, bumped on every successful write
	Version int64 `json:"version" dynamodbav:"version"`

	Tags map[string]string `json:"tags,omitempty" dynamodbav:"tags,omitempty"`

	// Timing
	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// Clone returns a copy that shares nothing mutable with the receiver
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.State = i.State.Clone()
	c.History = make([]HistoryEntry, len(i.History))
	for idx, h := range i.History {
		h.Data = cloneMap(h.Data)
		c.History[idx] = h
	}
	c.WaitInfo = cloneMap(i.WaitInfo)
	if i.Error != nil {
		e := *i.Error
		e.Details = cloneMap(i.Error.Details)
		c.Error = &e
	}
	if i.Tags != nil {
		c.Tags = make(map[string]string, len(i.Tags))
		for k, v := range i.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// Append records a transition in the history using the instance's current
// status and step
func (i *Instance) Append(entryType, step string, attempt int, data map[string]any) {
	i.History = append(i.History, HistoryEntry{
		Type:        entryType,
		Timestamp:   time.Now().UTC(),
		Step:        step,
		Status:      i.Status,
		CurrentStep: i.CurrentStep,
		Attempt:     attempt,
		Data:        data,
	})
}

// LastHistory returns the most recent history entry of any of the given types
func (i *Instance) LastHistory(types ...string) (HistoryEntry, bool) {
	for idx := len(i.History) - 1; idx >= 0; idx-- {
		if len(types) == 0 {
			return i.History[idx], true
		}
		for _, t := range types {
			if i.History[idx].Type == t {
				return i.History[idx], true
			}
		}
	}
	return HistoryEntry{}, false
}

// InstanceRef identifies an instance found by the timeout scan
type InstanceRef struct {
	ID             string    `json:"id"`
	DefinitionName string    `json:"definitionName"`
	CurrentStep    string    `json:"currentStep"`
	Status         Status    `json:"status"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Ref returns the InstanceRef for the instance
func (i *Instance) Ref() InstanceRef {
	return InstanceRef{
		ID:             i.ID,
		DefinitionName: i.DefinitionName,
		CurrentStep:    i.CurrentStep,
		Status:         i.Status,
		UpdatedAt:      i.UpdatedAt,
	}
}
