package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sustainage/admission-gate/internal/app"
	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/config"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
	"github.com/sustainage/admission-gate/internal/tools/common"
	"github.com/sustainage/admission-gate/internal/tools/loadgen"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gate",
		Short:         "Request admission and authorization gate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newLicenseCommand())
	cmd.AddCommand(newLoadgenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

// licenseEnv is the slice of the gate a license command needs: the codec and
// the license table, no HTTP.
type licenseEnv struct {
	licenses *service.LicenseService
	trail    *service.AuditTrail
}

func openLicenseEnv(ctx context.Context) (*licenseEnv, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}
	clk := clock.System()
	codec := security.NewTokenCodec(cfg.LicenseIssuer, cfg.LicenseSigningSecret, clk)
	return &licenseEnv{
		licenses: service.NewLicenseService(codec, repository.NewLicenseRepository(db), clk),
		trail:    service.NewAuditTrail(repository.NewAuditRepository(db), clk),
	}, nil
}

func newLoadgenCommand() *cobra.Command {
	var envFile string
	opts := loadgen.Options{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic traffic at a running gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			summary, err := loadgen.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file with connection defaults")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "http://localhost:8080", "gate base URL")
	cmd.Flags().StringVar(&opts.Profile, "profile", "mixed", "traffic profile: auth, health or mixed")
	cmd.Flags().IntVar(&opts.Requests, "requests", 100, "total requests to send")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-request timeout")
	return cmd
}

func newLicenseCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "license", Short: "Issue, revoke and inspect license tokens"}
	cmd.AddCommand(newLicenseIssueCommand())
	cmd.AddCommand(newLicenseRevokeCommand())
	cmd.AddCommand(newLicenseInspectCommand())
	return cmd
}

func newLicenseIssueCommand() *cobra.Command {
	var companyID uint
	var maxUsers int
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed license for a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID == 0 || maxUsers <= 0 || ttl <= 0 {
				return fmt.Errorf("company, max-users and ttl must be positive")
			}
			env, err := openLicenseEnv(cmd.Context())
			if err != nil {
				return err
			}
			token, license, err := env.licenses.Issue(cmd.Context(), companyID, maxUsers, ttl)
			if err != nil {
				return err
			}
			env.trail.Record(cmd.Context(), "cli", "license.issue", token[:min(12, len(token))], "issued", map[string]any{
				"company_id": companyID,
				"max_users":  maxUsers,
				"expires_at": license.ExpiresAt,
			})
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"token":      token,
				"company_id": license.CompanyID,
				"max_users":  license.MaxUsers,
				"expires_at": license.ExpiresAt,
			})
		},
	}
	cmd.Flags().UintVar(&companyID, "company", 0, "company id the license binds to")
	cmd.Flags().IntVar(&maxUsers, "max-users", 0, "licensed seat count")
	cmd.Flags().DurationVar(&ttl, "ttl", 365*24*time.Hour, "license validity duration")
	return cmd
}

func newLicenseRevokeCommand() *cobra.Command {
	var token, reason string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a license immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			env, err := openLicenseEnv(cmd.Context())
			if err != nil {
				return err
			}
			if err := env.licenses.Revoke(cmd.Context(), token, reason); err != nil {
				return err
			}
			env.trail.Record(cmd.Context(), "cli", "license.revoke", token[:min(12, len(token))], "revoked", map[string]any{
				"reason": reason,
			})
			fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "license token to revoke")
	cmd.Flags().StringVar(&reason, "reason", "operator request", "revocation reason for the audit trail")
	return cmd
}

func newLicenseInspectCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode a license token without touching storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			codec := security.NewTokenCodec(cfg.LicenseIssuer, cfg.LicenseSigningSecret, clock.System())
			claims, err := codec.Decode(token)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"company_id": claims.CompanyID,
				"max_users":  claims.MaxUsers,
				"issued_at":  claims.IssuedAt.Time,
				"expires_at": claims.ExpiresAt.Time,
				"license_id": claims.ID,
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "license token to inspect")
	return cmd
}
