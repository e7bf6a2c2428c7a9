package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaot623/agentrun/internal/client"
	"github.com/xiaot623/agentrun/internal/domain"
	"github.com/xiaot623/agentrun/internal/transport/ws"
)

type watchOptions struct {
	topics       []string
	subscriberID string
	untilEnd     bool
	raw          bool
}

func buildWatchCmd(opts *rootOptions) *cobra.Command {
	var wo watchOptions
	cmd := &cobra.Command{
		Use:   "watch [RUN_ID]",
		Short: "Follow live events over the websocket bridge",
		Long: `Follow live events over the websocket bridge.

With a RUN_ID the run's logs channel is followed until the run ends.
Use --topic for other topics or patterns such as "logs:tenant:t1:*".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				wo.topics = append(wo.topics, domain.LogsTopic(args[0]))
				wo.untilEnd = true
			}
			if len(wo.topics) == 0 {
				return fmt.Errorf("give a RUN_ID or at least one --topic")
			}
			return watchTopics(cmd, opts, wo)
		},
	}
	cmd.Flags().StringArrayVar(&wo.topics, "topic", nil, "Topic or pattern to follow (repeatable)")
	cmd.Flags().StringVar(&wo.subscriberID, "subscriber-id", "", "Resume an earlier subscriber")
	cmd.Flags().BoolVar(&wo.raw, "raw", false, "Print frames as received")
	return cmd
}

func watchTopics(cmd *cobra.Command, opts *rootOptions, wo watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return client.Watch(ctx, client.WebSocketURL(opts.server), client.WatchOptions{
		SubscriberID: wo.subscriberID,
		Topics:       wo.topics,
	}, func(f client.Frame) error {
		if wo.raw {
			fmt.Fprintln(out, string(f.Data))
		} else {
			printFrame(out, f)
		}
		if f.Type == ws.TypeError {
			var msg ws.ErrorMessage
			_ = json.Unmarshal(f.Data, &msg)
			return fmt.Errorf("%s: %s", msg.Code, msg.Message)
		}
		if wo.untilEnd && endsWatch(f.Type) {
			return client.ErrStopWatch
		}
		return nil
	})
}

func endsWatch(typ string) bool {
	switch typ {
	case "end", "error", "run_cancelled":
		return true
	}
	return false
}

// printFrame renders the common event kinds on one line each.
func printFrame(w io.Writer, f client.Frame) {
	var ev struct {
		RunID     string `json:"run_id"`
		StrResult string `json:"str_result"`
		Name      string `json:"name"`
		Status    string `json:"status"`
		Message   string `json:"message"`
		Error     string `json:"error"`
		Topic     string `json:"topic"`
		State     string `json:"state"`
	}
	_ = json.Unmarshal(f.Data, &ev)

	switch f.Type {
	case "output":
		fmt.Fprint(w, ev.StrResult)
	case "tool", "tool_result":
		fmt.Fprintf(w, "\n[%s] %s\n", f.Type, ev.Name)
	case "tool_error":
		fmt.Fprintf(w, "\n[tool_error] %s: %s\n", ev.Name, ev.Error)
	case "run_updated", ws.TypeRunStatus:
		fmt.Fprintf(w, "\n[%s] %s %s\n", f.Type, ev.RunID, ev.Status)
	case "state_change":
		fmt.Fprintf(w, "\n[state_change] %s\n", ev.State)
	case "error":
		fmt.Fprintf(w, "\n[error] %s\n", ev.Message)
	case ws.TypeError:
		fmt.Fprintf(w, "[%s] %s\n", f.Type, ev.Message)
	case ws.TypeSubscribed, ws.TypeUnsubscribed:
		fmt.Fprintf(w, "[%s] %s\n", f.Type, ev.Topic)
	case "end":
		fmt.Fprintln(w, "\n[end]")
	default:
		fmt.Fprintf(w, "[%s]\n", f.Type)
	}
}
