package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archsync/internal/auth"
	"archsync/internal/config"
	"archsync/internal/rbac"
	"archsync/internal/search"
)

func searchCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search synced sections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateGraph(); err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			response := rt.service().Search(cmd.Context(), strings.Join(args, " "), limit, 0)
			if response.Error != "" {
				return search.ErrUnavailable
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(response)
			}
			fmt.Fprintf(out, "%d result(s) from %s\n", response.Total, response.Source)
			for _, result := range response.Results {
				fmt.Fprintf(out, "  %-32s %s\n", result.Slug, result.Title)
				if result.Snippet != "" {
					fmt.Fprintf(out, "      %s\n", result.Snippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func hashKeyCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash of an operator key (reads stdin without an argument)",
		Long: `Print the bcrypt hash for ARCHSYNC_OPERATOR_KEY_HASH. With --role the
output is a role=hash entry for ARCHSYNC_OPERATOR_KEYS.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					key = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read key: %w", err)
				}
			}
			hash, err := auth.HashOperatorKey(strings.TrimSpace(key))
			if err != nil {
				return err
			}
			if role == "" {
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			}
			parsed, ok := rbac.Parse(strings.ToLower(role))
			if !ok {
				return fmt.Errorf("%w: unknown role %q", config.ErrConfiguration, role)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", parsed, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "bind the key to this role (viewer, contributor, reviewer, operator, admin)")
	return cmd
}
