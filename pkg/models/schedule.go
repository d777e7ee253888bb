package models

import "time"

// ActionType enumerates the scheduler's recommended follow-up actions.
type ActionType string

const (
	ActionRetryFailedEndpoints ActionType = "retry_failed_endpoints"
	ActionPauseJob             ActionType = "pause_job"
	ActionModifyFrequency      ActionType = "modify_frequency"
	ActionNotifyUser           ActionType = "notify_user"
	ActionAdjustTimeout        ActionType = "adjust_timeout"
)

// IsValid checks if the action type is valid.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionRetryFailedEndpoints, ActionPauseJob, ActionModifyFrequency,
		ActionNotifyUser, ActionAdjustTimeout:
		return true
	default:
		return false
	}
}

// ActionPriority ranks a recommended action.
type ActionPriority string

const (
	ActionPriorityLow    ActionPriority = "low"
	ActionPriorityMedium ActionPriority = "medium"
	ActionPriorityHigh   ActionPriority = "high"
)

// IsValid checks if the action priority is valid.
func (p ActionPriority) IsValid() bool {
	return p == ActionPriorityLow || p == ActionPriorityMedium || p == ActionPriorityHigh
}

// RecommendedAction is one advisory item attached to a schedule decision.
type RecommendedAction struct {
	Type     ActionType     `json:"type"`
	Details  string         `json:"details"`
	Priority ActionPriority `json:"priority"`
}

// ScheduleDecision is the scheduling agent's output: when the job runs next
// and why. NextRunAt must be strictly in the future unless the agent pauses
// the job through a recommended action.
type ScheduleDecision struct {
	NextRunAt          time.Time           `json:"nextRunAt"`
	Reasoning          string              `json:"reasoning"`
	Confidence         float64             `json:"confidence"`
	RecommendedActions []RecommendedAction `json:"recommendedActions,omitempty"`

	// Usage is the token accounting of the scheduler call(s), including repair.
	Usage *TokenUsage `json:"usage,omitempty"`
}
