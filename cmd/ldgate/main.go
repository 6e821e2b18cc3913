// Command ldgate runs Logic Driver tooling behind the marketplace
// entitlement check.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ldgate/internal/entitlement/adapters/warden"
	"ldgate/internal/entitlement/gate"
	"ldgate/internal/entitlement/models"
	"ldgate/internal/entitlement/ports"
	"ldgate/internal/platform/config"
	"ldgate/internal/platform/logger"
	"ldgate/internal/platform/metrics"
	"ldgate/internal/support"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit/publisher"
	auditmemory "ldgate/pkg/platform/audit/store/memory"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// errNotEntitled is returned when the gated continuation did not run. The
// warden client has already told the user why.
var errNotEntitled = errors.New("not entitled")

// exitError carries a child process exit status through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultApp()).ExecuteContext(ctx)
	stop()
	var exitErr *exitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		os.Exit(exitErr.code)
	case errors.Is(err, errNotEntitled):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the seams commands reach through, so tests can swap the warden
// and the process runner.
type app struct {
	version string
	newGate func(cmd *cobra.Command) (*gate.Gate, error)
	collect func(ctx context.Context, version string) (*support.Report, error)
	exec    func(ctx context.Context, stdio stdio, name string, args ...string) error
}

type stdio struct {
	in       io.Reader
	out, err io.Writer
}

func defaultApp() *app {
	return &app{
		version: Version,
		newGate: buildGate,
		collect: func(ctx context.Context, version string) (*support.Report, error) {
			return support.Collect(ctx, version)
		},
		exec: execCommand,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ldgate",
		Short:         "Logic Driver marketplace entitlement gate",
		Version:       a.version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStatusCmd(a),
		newVerifyCmd(a),
		newRunCmd(a),
		newSupportCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enforcement, gate state and product identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.newGate(cmd)
			if err != nil {
				return err
			}
			p := g.Product()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product:         %s\n", p.Name())
			fmt.Fprintf(out, "Catalog item id: %s\n", p.CatalogItemID)
			fmt.Fprintf(out, "Product id:      %s\n", p.ProductID)
			fmt.Fprintf(out, "Enforced:        %t\n", g.Enforced())
			fmt.Fprintf(out, "State:           %s\n", g.State())
			return nil
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check entitlement now; exits non-zero when not entitled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.newGate(cmd)
			if err != nil {
				return err
			}
			if !g.Ensure(cmd.Context()) {
				return errNotEntitled
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: entitled\n", g.Product().Name())
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run a command only after entitlement is confirmed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.newGate(cmd)
			if err != nil {
				return err
			}
			ran := false
			var runErr error
			g.Authenticate(cmd.Context(), func() {
				ran = true
				runErr = a.exec(cmd.Context(), stdio{
					in:  cmd.InOrStdin(),
					out: cmd.OutOrStdout(),
					err: cmd.ErrOrStderr(),
				}, args[0], args[1:]...)
			})
			if !ran {
				return errNotEntitled
			}
			return runErr
		},
	}
}

func newSupportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "support",
		Short: "Print a support report for bug reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.newGate(cmd)
			if err != nil {
				return err
			}
			ran := false
			var reportErr error
			g.Authenticate(cmd.Context(), func() {
				ran = true
				report, err := a.collect(cmd.Context(), a.version)
				if err != nil {
					reportErr = err
					return
				}
				reportErr = report.Render(cmd.OutOrStdout())
			})
			if !ran {
				return errNotEntitled
			}
			return reportErr
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ldgate %s\n", a.version)
			fmt.Fprintf(cmd.OutOrStdout(), "Enforced: %t\n", gate.DefaultEnforcement())
		},
	}
}

// buildGate wires the gate from the environment.
func buildGate(cmd *cobra.Command) (*gate.Gate, error) {
	config.LoadDotEnv()
	cfg, err := config.ClientFromEnv()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log)
	auditPublisher := publisher.NewPublisher(auditmemory.NewInMemoryStore(), publisher.WithLogger(log))

	var client ports.Warden
	if cfg.AccountToken == "" && !gate.DefaultEnforcement() {
		client = unconfiguredWarden{}
	} else {
		client, err = warden.NewClient(cfg.WardenURL, cfg.AccountToken,
			warden.WithPublicKey(ed25519.PublicKey(cfg.WardenPublicKey)),
			warden.WithPresenter(warden.NewTerminalPresenter(cmd.ErrOrStderr(), cmd.InOrStdin(), warden.OpenBrowser)),
			warden.WithVersion(Version),
			warden.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("configure warden client: %w", err)
		}
	}

	machineID, err := warden.MachineID(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("derive machine id: %w", err)
	}

	return gate.New(client,
		gate.WithMachineID(machineID),
		gate.WithStoreURL(cfg.StoreURL),
		gate.WithCheckTimeout(cfg.CheckTimeout),
		gate.WithLogger(log),
		gate.WithMetrics(metrics.New()),
		gate.WithAuditPublisher(auditPublisher),
	)
}

// unconfiguredWarden stands in on builds where the gate is open and no
// account is configured. The gate never calls it.
type unconfiguredWarden struct{}

func (unconfiguredWarden) CheckEntitlement(context.Context, models.CheckRequest) (*models.Verdict, error) {
	return nil, dErrors.New(dErrors.CodeUnavailable, "no warden account configured")
}

func execCommand(ctx context.Context, std stdio, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Stdin, c.Stdout, c.Stderr = std.in, std.out, std.err
	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &exitError{code: exitErr.ExitCode()}
	}
	return err
}
