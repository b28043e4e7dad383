package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minipay/onboarding/internal/authz"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/provisioning"
)

func reconcileCmd(flags *rootFlags) *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "reconcile <principal-id>",
		Short: "Recompute and store a principal's onboarding record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer app.Close()

			record, err := app.Orchestrator.Reconcile(cmd.Context(), args[0], country, authz.Operator())
			if err != nil {
				return describeError(err)
			}
			return printJSON(cmd.OutOrStdout(), record)
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "country override for the bank linking rule")
	return cmd
}

// describeError renders a classified error for an operator. Unlike HTTP
// responses, the cause is included.
func describeError(err error) error {
	apiErr := apierrors.As(err)
	var b strings.Builder
	b.WriteString(err.Error())
	if fields, ok := apiErr.Details["fields"].([]provisioning.FieldError); ok {
		for _, f := range fields {
			fmt.Fprintf(&b, "\n  %s: %s", f.Field, f.Reason)
		}
	}
	return fmt.Errorf("%s", b.String())
}
