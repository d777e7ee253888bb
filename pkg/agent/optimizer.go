package agent

import (
	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

// Optimizer trims a job's history for the AI payload. The stored history is
// never mutated; trimming operates on a shallow copy of the context.
type Optimizer struct {
	cfg *config.PromptOptimizationConfig
}

// NewOptimizer builds an optimizer. A nil config disables trimming.
func NewOptimizer(cfg *config.PromptOptimizationConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Optimize returns the context with messages and usage history trimmed under
// the configured caps. When optimization is disabled the context is returned
// unchanged.
func (o *Optimizer) Optimize(jobCtx *models.JobContext) *models.JobContext {
	if o == nil || o.cfg == nil || !o.cfg.Enabled {
		return jobCtx
	}
	trimmed := *jobCtx
	trimmed.Messages = o.trimMessages(jobCtx.Messages)
	trimmed.EndpointUsage = tailUsage(jobCtx.EndpointUsage, o.cfg.MaxEndpointUsageEntries)
	return &trimmed
}

// trimMessages keeps every system message plus the most recent non-system
// messages, bounded by MaxMessages overall. When the merged list still
// overflows, the oldest entries are dropped first, except that the newest
// MinRecentMessages non-system messages are never dropped. History order
// (chronological append order) is preserved throughout.
func (o *Optimizer) trimMessages(messages []models.Message) []models.Message {
	maxMessages := o.cfg.MaxMessages
	minRecent := o.cfg.MinRecentMessages
	if maxMessages <= 0 || len(messages) <= maxMessages {
		return messages
	}

	keep := make([]bool, len(messages))
	systems := 0
	for i, m := range messages {
		if m.Role == models.MessageRoleSystem {
			keep[i] = true
			systems++
		}
	}

	// Non-system budget: whatever MaxMessages leaves after the system
	// messages, but never below the recent-message floor.
	budget := maxMessages - systems
	if budget < minRecent {
		budget = minRecent
	}
	kept := 0
	for i := len(messages) - 1; i >= 0 && kept < budget; i-- {
		if messages[i].Role != models.MessageRoleSystem {
			keep[i] = true
			kept++
		}
	}

	merged := make([]models.Message, 0, systems+kept)
	for i, m := range messages {
		if keep[i] {
			merged = append(merged, m)
		}
	}
	if len(merged) <= maxMessages {
		return merged
	}
	return dropOldest(merged, maxMessages, minRecent)
}

// dropOldest removes the oldest messages until the list fits maxMessages,
// never touching the newest minRecent non-system messages.
func dropOldest(merged []models.Message, maxMessages, minRecent int) []models.Message {
	protected := make([]bool, len(merged))
	guarded := 0
	for i := len(merged) - 1; i >= 0 && guarded < minRecent; i-- {
		if merged[i].Role != models.MessageRoleSystem {
			protected[i] = true
			guarded++
		}
	}

	drop := len(merged) - maxMessages
	out := make([]models.Message, 0, maxMessages)
	for i, m := range merged {
		if drop > 0 && !protected[i] {
			drop--
			continue
		}
		out = append(out, m)
	}
	if len(out) > maxMessages {
		// Only possible when minRecent exceeds maxMessages, which config
		// validation rejects. Fall back to the newest maxMessages.
		out = out[len(out)-maxMessages:]
	}
	return out
}

// tailUsage keeps the most recent limit usage records.
func tailUsage(usage []models.EndpointUsage, limit int) []models.EndpointUsage {
	if limit <= 0 || len(usage) <= limit {
		return usage
	}
	return usage[len(usage)-limit:]
}
