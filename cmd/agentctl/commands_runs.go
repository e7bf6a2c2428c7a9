package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/agentrun/internal/domain"
)

func buildRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage runs",
	}
	cmd.AddCommand(
		buildRunsCreateCmd(opts),
		buildRunsListCmd(opts),
		buildRunsGetCmd(opts),
		buildRunsCancelCmd(opts),
		buildRunsPatchCmd(opts),
		buildRunsLogsCmd(opts),
		buildRunsTranscriptCmd(opts),
	)
	return cmd
}

func buildRunsCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		req     domain.CreateRunRequest
		mode    string
		scope   string
		noStart bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a run and start it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.InputMode = domain.InputMode(mode)
			req.Scope = domain.Scope(scope)
			run, err := opts.client().CreateRun(cmd.Context(), req, !noStart)
			if err != nil {
				return err
			}
			if !watch {
				return printJSON(cmd.OutOrStdout(), run)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s created\n", run.RunID)
			return watchTopics(cmd, opts, watchOptions{topics: []string{run.LogsChannel}, untilEnd: true})
		},
	}
	cmd.Flags().StringVar(&req.AgentID, "agent", "", "Agent ID")
	cmd.Flags().StringVar(&req.Input, "input", "", "Input text")
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "Tenant ID (defaults to the agent's)")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User ID (defaults to the agent's)")
	cmd.Flags().StringVar(&mode, "input-mode", "", "How to fit oversized input: fit or truncate")
	cmd.Flags().IntVar(&req.TurnLimit, "turn-limit", 0, "Maximum number of turns")
	cmd.Flags().IntVar(&req.Timeout, "timeout", 0, "Run timeout in seconds")
	cmd.Flags().StringVar(&req.ConversationID, "conversation", "", "Conversation ID")
	cmd.Flags().StringVar(&scope, "scope", "", "Log scope: private or shared")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Create the run without starting it")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow the run's events until it ends")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func buildRunsListCmd(opts *rootOptions) *cobra.Command {
	var (
		filter domain.RunFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.RunStatus(status)
			runs, err := opts.client().ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVar(&filter.TenantID, "tenant", "", "Filter by tenant")
	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "Filter by agent")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Max number of runs to return")
	return cmd
}

func buildRunsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := opts.client().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
}

func buildRunsCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func buildRunsPatchCmd(opts *rootOptions) *cobra.Command {
	var status, conversation, scope string
	cmd := &cobra.Command{
		Use:   "patch RUN_ID",
		Short: "Change a run's status, conversation or scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req domain.UpdateRunRequest
			if cmd.Flags().Changed("status") {
				s := domain.RunStatus(status)
				req.Status = &s
			}
			if cmd.Flags().Changed("conversation") {
				req.ConversationID = &conversation
			}
			if cmd.Flags().Changed("scope") {
				s := domain.Scope(scope)
				req.Scope = &s
			}
			if req.Status == nil && req.ConversationID == nil && req.Scope == nil {
				return fmt.Errorf("nothing to change: set --status, --conversation or --scope")
			}
			run, err := opts.client().UpdateRun(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&conversation, "conversation", "", "New conversation ID")
	cmd.Flags().StringVar(&scope, "scope", "", "New scope: private or shared")
	return cmd
}

func buildRunsLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		after int64
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Print a run's persisted event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var logs []domain.RunLog
			for {
				page, err := c.RunLogs(cmd.Context(), args[0], after, limit)
				if err != nil {
					return err
				}
				logs = append(logs, page.Logs...)
				if !all || !page.HasMore || len(page.Logs) == 0 {
					break
				}
				after = page.Logs[len(page.Logs)-1].ID
			}
			return printJSON(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "Only rows with a larger id")
	cmd.Flags().IntVar(&limit, "limit", 500, "Rows per page")
	cmd.Flags().BoolVar(&all, "all", false, "Follow pages until the end of the log")
	return cmd
}

func buildRunsTranscriptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript RUN_ID",
		Short: "Print a run's events with streamed output merged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.client().Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tr)
		},
	}
}
