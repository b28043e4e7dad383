package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func configCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load config with environment overrides and report the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			row := func(k, v string) { fmt.Fprintf(tw, "%s\t%s\n", k, v) }
			row("server.address", cfg.Server.Address)
			row("server.route_prefix", orNone(cfg.Server.RoutePrefix))
			row("identity.backend", cfg.Identity.Backend)
			row("documents.backend", cfg.Documents.Backend)
			row("partner.provider", cfg.Partner.Provider)
			row("notifications", enabled(cfg.Notifications.VerificationURL != ""))
			row("wallet.verify_on_chain", enabled(cfg.Wallet.VerifyOnChain))
			row("onboarding.bank_linking_countries", strings.Join(cfg.Onboarding.BankLinkingCountries, ", "))
			row("onboarding.call_timeout", cfg.Onboarding.CallTimeout.String())
			row("onboarding.compensation_timeout", cfg.Onboarding.CompensationTimeout.String())
			row("onboarding.orphan_min_age", cfg.Onboarding.OrphanMinAge.String())
			row("onboarding.sweep", enabled(cfg.Onboarding.Sweep.Enabled))
			row("api_key", fmt.Sprintf("%s (%d keys)", enabled(cfg.APIKey.Enabled), len(cfg.APIKey.Keys)))
			row("circuit_breaker", enabled(cfg.CircuitBreaker.Enabled))
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	})
	return cmd
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
