package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mquinn/gatekeep/internal/audit"
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/rules"
	"github.com/spf13/cobra"
)

func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage auto-allow permission rules",
	}
	cmd.AddCommand(newRulesListCmd(), newRulesAddCmd(), newRulesRemoveCmd())
	return cmd
}

func openRuleStore() (*rules.Store, error) {
	store := rules.NewStore(filepath.Join(config.StateDir(), "rules.json"))
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load permission rules: %w", err)
	}
	return store, nil
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rules in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRuleStore()
			if err != nil {
				return err
			}

			list := store.Rules()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No rules stored.")
				return nil
			}
			for i, rule := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%s] tool=%s", i+1, rule.ID, rule.Tool)
				if rule.CommandPattern != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " pattern=%q", rule.CommandPattern)
				}
				if rule.Scope == rules.ScopeProject {
					fmt.Fprintf(cmd.OutOrStdout(), " project=%s", rule.ProjectPath)
				}
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)\n", rule.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newRulesAddCmd() *cobra.Command {
	var (
		pattern     string
		projectPath string
	)
	cmd := &cobra.Command{
		Use:   "add <tool>",
		Short: "Add an auto-allow rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRuleStore()
			if err != nil {
				return err
			}

			scope := rules.ScopeAlways
			if projectPath != "" {
				scope = rules.ScopeProject
				if projectPath == "." {
					cwd, err := os.Getwd()
					if err != nil {
						return fmt.Errorf("resolve working directory: %w", err)
					}
					projectPath = cwd
				}
			}

			rule, err := store.Add(rules.AddInput{
				Tool:           args[0],
				CommandPattern: pattern,
				ProjectPath:    projectPath,
				Scope:          scope,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule added: %s\n", rule.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "Command glob, e.g. 'git push**' (empty matches any invocation of the tool)")
	cmd.Flags().StringVar(&projectPath, "project", "", "Limit the rule to this project directory ('.' for the current one)")
	return cmd
}

func newRulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <rule-id>",
		Short: "Remove a rule by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRuleStore()
			if err != nil {
				return err
			}

			removed, err := store.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no rule with id %s", args[0])
			}
			audit.NewWriter(config.StateDir()).RuleRemoved(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Rule removed: %s\n", args[0])
			return nil
		},
	}
}
