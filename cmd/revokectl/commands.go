package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/infra/security"
)

func newRootCmd(open environmentOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "revokectl",
		Short:         "Operate the token revocation store",
		Long:          `revokectl revokes and inspects credentials directly against the durable revocation backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRevokeCmd(open),
		newRevokeUserCmd(open),
		newCheckCmd(open),
		newReapCmd(open),
	)
	return root
}

func newRevokeCmd(open environmentOpener) *cobra.Command {
	var (
		token     string
		userID    string
		expiresAt string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a single credential",
		Example: `  # JWT: owner and expiry come from its claims
  revokectl revoke --token "$TOKEN"

  # Opaque token
  revokectl revoke --token abc123 --user user-42 --expires-at 2030-01-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedReason, err := domain.ParseRevocationReason(reason, domain.RevocationReasonManual)
			if err != nil {
				return err
			}

			var expiry time.Time
			if expiresAt != "" {
				if expiry, err = time.Parse(time.RFC3339, expiresAt); err != nil {
					return fmt.Errorf("--expires-at must be RFC3339: %w", err)
				}
			}
			userID = strings.TrimSpace(userID)
			if expiry.IsZero() || userID == "" {
				claims, claimErr := security.ParseCredentialClaims(token)
				switch {
				case claimErr == nil:
					if expiry.IsZero() {
						expiry = claims.ExpiresAt
					}
					if userID == "" {
						userID = claims.UserID
					}
				case expiry.IsZero():
					return fmt.Errorf("%w: pass --expires-at for non-JWT tokens", domain.ErrUnknownExpiry)
				}
			}

			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			if err := env.revocations.RevokeWithReason(cmd.Context(), token, userID, expiry, parsedReason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked until %s\n", expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "credential to revoke")
	cmd.Flags().StringVar(&userID, "user", "", "owner of the credential")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "credential expiry (RFC3339)")
	cmd.Flags().StringVar(&reason, "reason", string(domain.RevocationReasonManual), "logout, security_incident or manual")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newRevokeUserCmd(open environmentOpener) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke-user <user-id>",
		Short: "Revoke every credential recorded for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedReason, err := domain.ParseRevocationReason(reason, domain.RevocationReasonSecurityIncident)
			if err != nil {
				return err
			}

			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			count, err := env.revocations.RevokeAllForUserWithReason(cmd.Context(), args[0], parsedReason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d credential(s) for %s\n", count, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(domain.RevocationReasonSecurityIncident), "logout, security_incident or manual")
	return cmd
}

func newCheckCmd(open environmentOpener) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a credential is revoked",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			outcome := env.revocations.Check(cmd.Context(), token)
			status := "not revoked"
			if outcome.Revoked() {
				status = "revoked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", status, outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "credential to check")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

var errReapUnsupported = errors.New("reap requires the postgres durable backend")

func newReapCmd(open environmentOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired revocations from the PostgreSQL backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			if env.reaper == nil {
				return errReapUnsupported
			}
			deleted, err := env.reaper.ReapOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d expired revocation(s)\n", deleted)
			return nil
		},
	}
}
