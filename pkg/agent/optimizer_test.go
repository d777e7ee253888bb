package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/models"
)

func msg(role models.MessageRole, text string, at time.Time) models.Message {
	return models.Message{Role: role, Content: models.TextContent(text), CreatedAt: at}
}

func countRole(messages []models.Message, role models.MessageRole) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

func TestOptimizeDisabledReturnsContextUnchanged(t *testing.T) {
	jobCtx := &models.JobContext{
		Messages: []models.Message{msg(models.MessageRoleUser, "hello", time.Now())},
	}

	opt := NewOptimizer(&config.PromptOptimizationConfig{Enabled: false, MaxMessages: 1})
	assert.Same(t, jobCtx, opt.Optimize(jobCtx))

	assert.Same(t, jobCtx, NewOptimizer(nil).Optimize(jobCtx))
}

func TestOptimizeUnderCapsKeepsEverything(t *testing.T) {
	base := time.Now()
	jobCtx := &models.JobContext{
		Messages: []models.Message{
			msg(models.MessageRoleSystem, "s1", base),
			msg(models.MessageRoleUser, "u1", base.Add(time.Minute)),
		},
		EndpointUsage: []models.EndpointUsage{{EndpointID: "e1"}},
	}

	opt := NewOptimizer(&config.PromptOptimizationConfig{
		Enabled: true, MaxMessages: 10, MinRecentMessages: 3, MaxEndpointUsageEntries: 5,
	})
	trimmed := opt.Optimize(jobCtx)

	assert.Len(t, trimmed.Messages, 2)
	assert.Len(t, trimmed.EndpointUsage, 1)
}

func TestOptimizeKeepsSystemsAndNewestRecent(t *testing.T) {
	base := time.Now()
	messages := []models.Message{
		msg(models.MessageRoleSystem, "sys-0", base),
		msg(models.MessageRoleSystem, "sys-1", base.Add(1*time.Minute)),
	}
	for i := 0; i < 20; i++ {
		messages = append(messages, msg(models.MessageRoleUser,
			fmt.Sprintf("user-%d", i), base.Add(time.Duration(i+2)*time.Minute)))
	}

	opt := NewOptimizer(&config.PromptOptimizationConfig{
		Enabled: true, MaxMessages: 10, MinRecentMessages: 3,
	})
	trimmed := opt.Optimize(&models.JobContext{Messages: messages})

	require.Len(t, trimmed.Messages, 10)
	assert.Equal(t, 2, countRole(trimmed.Messages, models.MessageRoleSystem), "system messages kept")
	assert.Equal(t, "sys-0", trimmed.Messages[0].Content.AsText())
	assert.Equal(t, "user-12", trimmed.Messages[2].Content.AsText(), "oldest kept non-system is the 8th newest")
	assert.Equal(t, "user-19", trimmed.Messages[9].Content.AsText(), "newest message survives")

	// Stored history untouched.
	assert.Len(t, messages, 22)
}

func TestOptimizeProtectsRecentNonSystemOverOldSystems(t *testing.T) {
	// All non-system messages are OLDER than the system messages; the
	// recent-message floor still wins over keeping every system message.
	base := time.Now()
	var messages []models.Message
	for i := 0; i < 3; i++ {
		messages = append(messages, msg(models.MessageRoleAssistant,
			fmt.Sprintf("reply-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 10; i++ {
		messages = append(messages, msg(models.MessageRoleSystem,
			fmt.Sprintf("sys-%d", i), base.Add(time.Duration(i+10)*time.Minute)))
	}

	opt := NewOptimizer(&config.PromptOptimizationConfig{
		Enabled: true, MaxMessages: 10, MinRecentMessages: 3,
	})
	trimmed := opt.Optimize(&models.JobContext{Messages: messages})

	require.Len(t, trimmed.Messages, 10)
	assert.Equal(t, 3, countRole(trimmed.Messages, models.MessageRoleAssistant),
		"recent non-system floor survives truncation")
	assert.Equal(t, "reply-0", trimmed.Messages[0].Content.AsText())
	assert.Equal(t, "sys-9", trimmed.Messages[9].Content.AsText())
	// The three oldest system messages were sacrificed.
	assert.Equal(t, "sys-3", trimmed.Messages[3].Content.AsText())
}

func TestOptimizeTrimsUsageToMostRecent(t *testing.T) {
	base := time.Now()
	var usage []models.EndpointUsage
	for i := 0; i < 8; i++ {
		usage = append(usage, models.EndpointUsage{
			EndpointID: fmt.Sprintf("e%d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	opt := NewOptimizer(&config.PromptOptimizationConfig{
		Enabled: true, MaxMessages: 10, MinRecentMessages: 3, MaxEndpointUsageEntries: 5,
	})
	trimmed := opt.Optimize(&models.JobContext{EndpointUsage: usage})

	require.Len(t, trimmed.EndpointUsage, 5)
	assert.Equal(t, "e3", trimmed.EndpointUsage[0].EndpointID)
	assert.Equal(t, "e7", trimmed.EndpointUsage[4].EndpointID)
}
