package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"agentflow/internal/scheduler"
	"agentflow/pkg/models"
)

const (
	analysisSystem = `You are an analysis agent. Examine the provided input and
report on the requested aspect. Be concise and factual. Return plain text.`

	decisionSystem = `You are a decision agent. Given the input, its analysis, and
the requested operations, decide what should be done. State the decision and a
one-line rationale. Return plain text.`

	validationSystem = `You are a validation agent. Check the given decision against
the named validation step. Respond with PASS or FAIL on the first line, followed
by a short explanation.`

	applicationSystem = `You are an application agent. Carry out the given decision
against the listed targets and summarize what was done. Return plain text.`
)

// RegisterAll registers Claude-backed executors for the four pipeline
// task types on the given registry.
func RegisterAll(reg *scheduler.Registry, client *Client) {
	reg.Register(models.TaskTypeAnalysis, executor(client, analysisSystem))
	reg.Register(models.TaskTypeDecision, executor(client, decisionSystem))
	reg.Register(models.TaskTypeValidation, executor(client, validationSystem))
	reg.Register(models.TaskTypeApplication, executor(client, applicationSystem))
}

// executor adapts a Complete call into a scheduler.Executor. The task
// input is rendered as JSON so structured sub-task payloads survive the
// trip into the prompt.
func executor(client *Client, systemPrompt string) scheduler.Executor {
	return func(ctx context.Context, task models.Task) (any, error) {
		prompt, err := renderInput(task)
		if err != nil {
			return nil, err
		}
		return client.Complete(ctx, systemPrompt, prompt)
	}
}

func renderInput(task models.Task) (string, error) {
	switch in := task.Input.(type) {
	case string:
		return in, nil
	default:
		raw, err := json.MarshalIndent(task.Input, "", "  ")
		if err != nil {
			return "", fmt.Errorf("render input for task %s: %w", task.ID, err)
		}
		return string(raw), nil
	}
}
