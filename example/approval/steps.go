package approval

import (
	"fmt"
	"time"

	"github.com/sicko7947/waitflow"
)

// reviewer holds what the steps need beyond state
type reviewer struct {
	decider      Decider
	initialDelay Delay
	finalDelay   Delay
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// pause simulates review time; it returns the context error if the step
// is cancelled or times out first
func pause(ctx *waitflow.StepContext, d Delay) error {
	wait := d.pick()
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record appends a domain event to the approval history carried in state
func record(state waitflow.State, eventType string, data map[string]any) {
	history, _ := state[KeyApprovalHistory].([]any)
	state[KeyApprovalHistory] = append(history, map[string]any{
		"type":      eventType,
		"timestamp": now(),
		"data":      data,
	})
}

func chance(state waitflow.State, fallback float64) float64 {
	c, err := waitflow.GetTyped[float64](state, KeyApprovalChance)
	if err != nil {
		return fallback
	}
	return c
}

// initialApproval is the management review of the application
func (r *reviewer) initialApproval(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
	userName, _ := state.String(KeyUserName)
	ctx.Logger.Info().Str("user", userName).Msg("Reviewing application")

	if err := pause(ctx, r.initialDelay); err != nil {
		return waitflow.Fail(err)
	}

	next := state.Clone()

	if r.decider.Decide(ctx, StepInitialApproval, chance(state, DefaultApprovalChance)) {
		data := map[string]any{
			"message":      "Your application has been approved by management",
			"approvedBy":   "John Manager",
			"approvalDate": now(),
		}
		record(next, EventApprovalGranted, data)
		ctx.Publish(EventApprovalGranted, data)
		return waitflow.Goto(StepWaitForUserChoice, next)
	}

	data := map[string]any{
		"reason":     "Budget exceeded for this quarter",
		"deniedBy":   "Jane Director",
		"denialDate": now(),
	}
	record(next, EventApprovalDenied, data)
	next[KeyFinalResult] = map[string]any{
		"approved": false,
		"reason":   data["reason"],
	}
	ctx.Publish(EventApprovalDenied, data)
	return waitflow.Goto(StepEnd, next)
}

// waitForUserChoice suspends until a configuration has been chosen
func (r *reviewer) waitForUserChoice(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
	if choice, ok := state.String(KeyUserChoice); ok {
		ctx.Logger.Info().Str("choice", choice).Msg("Configuration chosen")
		return waitflow.Goto(StepFinalApproval, state)
	}

	return waitflow.Wait(map[string]any{
		"message":    "Waiting for user to select configuration",
		"waitingFor": "user_choice",
	})
}

// finalApproval is the procurement review of the chosen configuration
func (r *reviewer) finalApproval(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
	choice, ok := state.String(KeyUserChoice)
	if !ok {
		return waitflow.Failf("no configuration chosen")
	}

	if err := pause(ctx, r.finalDelay); err != nil {
		return waitflow.Fail(err)
	}

	next := state.Clone()

	if r.decider.Decide(ctx, StepFinalApproval, chance(state, choiceChances[ChoiceProfessional])) {
		data := map[string]any{
			"message":          fmt.Sprintf("Your %s configuration has been approved", choice),
			"approvedBy":       "Sarah CFO",
			"deliveryEstimate": "5-7 business days",
			"approvalDate":     now(),
		}
		record(next, EventFinalApproval, data)
		next[KeyFinalResult] = map[string]any{
			"approved": true,
			"reason":   data["message"],
		}
		ctx.Publish(EventFinalApproval, data)
		return waitflow.Goto(StepEnd, next)
	}

	reason, ok := denialReasons[choice]
	if !ok {
		reason = "Configuration not available"
	}
	data := map[string]any{
		"reason":     reason,
		"deniedBy":   "Mark Procurement",
		"denialDate": now(),
	}
	record(next, EventFinalDenial, data)
	next[KeyFinalResult] = map[string]any{
		"approved": false,
		"reason":   reason,
	}
	ctx.Publish(EventFinalDenial, data)
	return waitflow.Goto(StepEnd, next)
}

func (r *reviewer) end(ctx *waitflow.StepContext, state waitflow.State) waitflow.StepResult {
	return waitflow.Finish(state)
}
