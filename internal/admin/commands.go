package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	grpcapi "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func hashCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the argon2id hash of a password, for identity seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), o.passwordStdin)
			if err != nil {
				return err
			}
			hash, err := newHasher().Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().BoolVar(&o.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func registerCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an identity in the configured identity store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), o.passwordStdin)
			if err != nil {
				return err
			}
			return o.withService(cmd, func(ctx context.Context, cfg *config.Config, svc *services.AuthService) error {
				if cfg.IdentityBackend == config.BackendMemory {
					return errors.New("register needs a persistent identity backend")
				}
				user, err := svc.Register(ctx, args[0], pw)
				switch {
				case errors.Is(err, common.ErrorAlreadyExists):
					return fmt.Errorf("user %q already exists", args[0])
				case err != nil:
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s id=%s\n", user.UserName, user.ID)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&o.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func revokeAllCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all <user-id>",
		Short: "Invalidate every refresh token of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errors.New("user id must not be empty")
			}
			return o.withService(cmd, func(ctx context.Context, cfg *config.Config, svc *services.AuthService) error {
				if cfg.RefreshBackend == config.BackendMemory {
					return errors.New("revoke-all needs a shared refresh token backend")
				}
				if err := svc.RevokeAllForIdentity(ctx, userID); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "revoked all refresh tokens of %s\n", userID)
				return err
			})
		},
	}
}

func migrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseDSN == "" {
				return errors.New("database DSN is not set")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			if err := migrate(ctx, cfg.DatabaseDSN); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
}

func pingCmd(o *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the gRPC endpoint answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, err := o.loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.EndpointAddrGRPC
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			resp, err := grpcapi.NewAuthServiceClient(conn).Ping(ctx, &grpcapi.PingRequest{})
			if err != nil {
				return fmt.Errorf("ping %s: %w", addr, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", addr, resp.Status)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address (defaults to the configured endpoint)")
	return cmd
}
