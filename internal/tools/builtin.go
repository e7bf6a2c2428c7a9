package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ChangeStateTool moves the agent to another prompt state. The executor
// handles it itself; the registered function only validates arguments.
const ChangeStateTool = "agent.change_state"

// ChangeStateArgs are the arguments of ChangeStateTool.
type ChangeStateArgs struct {
	State string `json:"state"`
}

func init() {
	MustRegister(Definition{
		Name:        ChangeStateTool,
		Description: "Switch to another named state of your instructions.",
		Properties: map[string]any{
			"state": map[string]any{"type": "string", "description": "name of the state to switch to"},
		},
		Required: []string{"state"},
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, []string, error) {
			var in ChangeStateArgs
			if err := json.Unmarshal(args, &in); err != nil || in.State == "" {
				return nil, nil, fmt.Errorf("state is required")
			}
			return json.RawMessage(`{"status":"ok"}`), nil, nil
		},
	})
	MustRegister(Definition{
		Name:        "clock.now",
		Description: "Returns the current UTC time.",
		Properties:  map[string]any{},
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, []string, error) {
			data, err := json.Marshal(map[string]string{"now": time.Now().UTC().Format(time.RFC3339)})
			return data, nil, err
		},
	})
	MustRegister(Definition{
		Name:        "weather.query",
		Description: "Looks up the current weather for a city.",
		Properties: map[string]any{
			"city": map[string]any{"type": "string"},
		},
		Required: []string{"city"},
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, []string, error) {
			var in struct {
				City string `json:"city"`
			}
			_ = json.Unmarshal(args, &in)
			logs := []string{fmt.Sprintf("querying weather for %q", in.City)}
			return json.RawMessage(`{"weather":"Sunny","temperature":25}`), logs, nil
		},
	})
	MustRegister(Definition{
		Name:        "payments.transfer",
		Description: "Transfers an amount to a recipient.",
		Properties: map[string]any{
			"to":     map[string]any{"type": "string"},
			"amount": map[string]any{"type": "number"},
		},
		Required: []string{"to", "amount"},
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, []string, error) {
			return json.RawMessage(`{"status":"completed","transaction_id":"tx_123"}`), []string{"transfer submitted"}, nil
		},
	})
	MustRegister(Definition{
		Name:        "dangerous.command",
		Description: "Runs a shell command.",
		Properties: map[string]any{
			"command": map[string]any{"type": "string"},
		},
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, []string, error) {
			return nil, nil, fmt.Errorf("tool execution disabled")
		},
	})
}
