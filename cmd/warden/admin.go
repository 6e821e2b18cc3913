package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	entitlement "ldgate/internal/entitlement/models"
	"ldgate/internal/platform/config"
	"ldgate/internal/platform/logger"
	"ldgate/internal/warden/models"
	"ldgate/internal/warden/service"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/audit/publisher"
)

// productFlags selects the grant an admin command works on.
type productFlags struct {
	account       string
	catalogItemID string
	productID     string
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "account id")
	cmd.Flags().StringVar(&f.catalogItemID, "catalog-item", entitlement.DefaultProduct.CatalogItemID, "marketplace catalog item id")
	cmd.Flags().StringVar(&f.productID, "product", entitlement.DefaultProduct.ProductID, "marketplace product id")
}

// withService runs fn against a service over the configured store.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	config.LoadDotEnv()
	cfg, err := config.WardenFromEnv()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log)

	sign, err := signer(cfg, false)
	if err != nil {
		return err
	}
	b, err := openBackend(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	svc, err := service.New(b.store, sign,
		service.WithLogger(log),
		service.WithAuditPublisher(publisher.NewPublisher(b.audit, publisher.WithLogger(log))),
	)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), svc)
}

func newGrantCmd() *cobra.Command {
	var (
		product productFlags
		secret  string
		seats   int
		expires string
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Create or update an account's grant and print its account token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := models.IssueInput{
				Secret:        secret,
				CatalogItemID: product.catalogItemID,
				ProductID:     product.productID,
				Seats:         seats,
			}
			if product.account != "" {
				id, err := domain.ParseAccountID(product.account)
				if err != nil {
					return err
				}
				in.AccountID = id
			}
			if expires != "" {
				at, err := parseExpiry(expires, time.Now())
				if err != nil {
					return err
				}
				in.ExpiresAt = &at
			}

			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.Issue(ctx, in)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "account_id:    %s\n", res.Grant.AccountID)
				fmt.Fprintf(out, "grant_id:      %s\n", res.Grant.ID)
				fmt.Fprintf(out, "seats:         %d\n", res.Grant.Seats)
				if res.Grant.ExpiresAt != nil {
					fmt.Fprintf(out, "expires_at:    %s\n", res.Grant.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "account_token: %s\n", res.AccountToken)
				return nil
			})
		},
	}
	product.register(cmd)
	cmd.Flags().StringVar(&secret, "secret", "", "account secret (generated when empty)")
	cmd.Flags().IntVar(&seats, "seats", 1, "number of machines the grant covers")
	cmd.Flags().StringVar(&expires, "expires", "", "expiry as RFC 3339 time or duration from now (e.g. 720h)")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	var product productFlags
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an account's grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := domain.ParseAccountID(product.account)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				if err := svc.Revoke(ctx, id, product.catalogItemID, product.productID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked grant for account %s\n", id)
				return nil
			})
		},
	}
	product.register(cmd)
	return cmd
}

func newReleaseCmd() *cobra.Command {
	var product productFlags
	cmd := &cobra.Command{
		Use:   "release <machine-id>...",
		Short: "Free the seats held by the given machines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseAccountID(product.account)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				n, err := svc.Release(ctx, models.ReleaseInput{
					AccountID:     id,
					CatalogItemID: product.catalogItemID,
					ProductID:     product.productID,
					MachineIDs:    args,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d seat(s)\n", n)
				return nil
			})
		},
	}
	product.register(cmd)
	return cmd
}

func newActivationsCmd() *cobra.Command {
	var product productFlags
	cmd := &cobra.Command{
		Use:   "activations",
		Short: "List the machines holding seats on a grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := domain.ParseAccountID(product.account)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				list, err := svc.Activations(ctx, id, product.catalogItemID, product.productID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "MACHINE\tPLATFORM\tACTIVATED\tLAST SEEN")
				for _, a := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.MachineID, a.Platform,
						a.ActivatedAt.Format(time.RFC3339), a.LastSeenAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	product.register(cmd)
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a grant signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("generate seed: %w", err)
			}
			pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "WARDEN_SIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(seed))
			fmt.Fprintf(out, "LDGATE_WARDEN_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))
			return nil
		},
	}
}

// parseExpiry accepts an RFC 3339 timestamp or a duration from now.
func parseExpiry(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("expiry duration must be positive")
		}
		return now.Add(d).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires must be an RFC 3339 time or a duration: %q", raw)
	}
	return at.UTC(), nil
}
