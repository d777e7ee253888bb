package models

import "time"

// Environment classifies where the engine runs. The planner receives it so
// prompts can mention non-production environments.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
	EnvironmentTest        Environment = "test"
)

// IsValid checks if the environment is valid.
func (e Environment) IsValid() bool {
	return e == EnvironmentProduction || e == EnvironmentDevelopment || e == EnvironmentTest
}

// ExecutionContext carries per-cycle ambient facts for the agent. The
// cancellation signal travels separately as a context.Context parameter.
type ExecutionContext struct {
	CurrentTime time.Time   `json:"currentTime"`
	Environment Environment `json:"environment"`
}

// JobContext is the value object assembled for one processing cycle: the job,
// its endpoints, and trimmed history. The stored history is never mutated;
// trimming happens on a copy for the AI payload only.
type JobContext struct {
	Job              Job              `json:"job"`
	Endpoints        []Endpoint       `json:"endpoints"`
	Messages         []Message        `json:"messages"`
	EndpointUsage    []EndpointUsage  `json:"endpointUsage"`
	ExecutionContext ExecutionContext `json:"executionContext"`
}
