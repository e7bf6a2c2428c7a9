package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
)

func buildAgentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}
	cmd.AddCommand(
		buildAgentsApplyCmd(opts),
		buildAgentsStatesCmd(opts),
	)
	return cmd
}

// buildAgentsApplyCmd registers the agents of a YAML file in the same
// format as the orchestrator's CONFIG_FILE.
func buildAgentsApplyCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Register the agents declared in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			file, err := config.ParseFile(data)
			if err != nil {
				return err
			}
			if len(file.Agents) == 0 {
				return fmt.Errorf("%s declares no agents", path)
			}
			c := opts.client()
			for _, a := range file.Agents {
				resp, err := c.RegisterAgent(cmd.Context(), domain.RegisterAgentRequest{
					AgentID:      a.AgentID,
					TenantID:     a.TenantID,
					UserID:       a.UserID,
					Name:         a.Name,
					SystemPrompt: a.SystemPrompt,
					Model:        a.Model,
					Temperature:  a.Temperature,
					Trigger:      a.Trigger,
					Tools:        a.Tools,
					Memories:     a.Memories,
				})
				if err != nil {
					return fmt.Errorf("register %s: %w", a.AgentID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", resp.Agent.AgentID)
				for _, w := range resp.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", resp.Agent.AgentID, w)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Path to YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func buildAgentsStatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "states AGENT_ID",
		Short: "List an agent's prompt states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().AgentStates(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
