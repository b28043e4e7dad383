package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/provisioning"
)

type provisionFlags struct {
	role         string
	email        string
	password     string
	firstName    string
	lastName     string
	phone        string
	tgUsername   string
	country      string
	referralCode string
}

func (f provisionFlags) request() provisioning.Request {
	fields := map[string]string{
		"email":        f.email,
		"password":     f.password,
		"firstName":    f.firstName,
		"lastName":     f.lastName,
		"phone":        f.phone,
		"tgUsername":   f.tgUsername,
		"country":      f.country,
		"referralCode": f.referralCode,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return provisioning.Request{Role: f.role, Fields: fields}
}

func provisionCmd(flags *rootFlags) *cobra.Command {
	var pf provisionFlags

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a principal with operator rights",
		Long: `Create an admin, ambassador or customer principal.

The command runs as an operator, so admin principals can be created
without an API key. A failed run is compensated before it returns.

Examples:
  onboarding provision --role admin --email ops@example.com --password s3cret1 \
    --first-name Ada --last-name Lovelace --phone +15550100 --tg ada --country Kenya`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Orchestrator.Provision(cmd.Context(), pf.request(), authz.Operator())
			if err != nil {
				return describeError(err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&pf.role, "role", "", "principal role (admin, ambassador, customer)")
	cmd.Flags().StringVar(&pf.email, "email", "", "login email")
	cmd.Flags().StringVar(&pf.password, "password", "", "initial password")
	cmd.Flags().StringVar(&pf.firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&pf.lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&pf.phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&pf.tgUsername, "tg", "", "telegram username (staff roles)")
	cmd.Flags().StringVar(&pf.country, "country", "", "country of residence")
	cmd.Flags().StringVar(&pf.referralCode, "referral-code", "", "referral code (customers)")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
