package warden

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"ldgate/internal/entitlement/models"
)

// Presenter shows the unauthorized-user experience.
type Presenter interface {
	Notify(ctx context.Context, product models.ProductIdentity, message string)
	Confirm(ctx context.Context, prompt string) bool
	OpenStore(ctx context.Context, url string) error
}

// Opener launches a URL in the user's browser.
type Opener func(ctx context.Context, url string) error

// SilentPresenter shows nothing and never opens the store.
type SilentPresenter struct{}

func (SilentPresenter) Notify(context.Context, models.ProductIdentity, string) {}
func (SilentPresenter) Confirm(context.Context, string) bool { return false }
func (SilentPresenter) OpenStore(context.Context, string) error { return nil }

// TerminalPresenter prints to out and reads y/N answers from in.
type TerminalPresenter struct {
	out    io.Writer
	in     *bufio.Reader
	opener Opener
}

func NewTerminalPresenter(out io.Writer, in io.Reader, opener Opener) *TerminalPresenter {
	if opener == nil {
		opener = OpenBrowser
	}
	return &TerminalPresenter{out: out, in: bufio.NewReader(in), opener: opener}
}

func (p *TerminalPresenter) Notify(_ context.Context, product models.ProductIdentity, message string) {
	fmt.Fprintf(p.out, "%s: %s\n", product.Name(), message)
}

// Confirm defaults to no on EOF or any answer other than y/yes.
func (p *TerminalPresenter) Confirm(_ context.Context, prompt string) bool {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *TerminalPresenter) OpenStore(ctx context.Context, url string) error {
	fmt.Fprintf(p.out, "Opening %s\n", url)
	return p.opener(ctx, url)
}

// OpenBrowser hands url to the platform's default handler. Cancelling ctx
// does not stop the launcher.
func OpenBrowser(ctx context.Context, url string) error {
	name, args := browserCommand(runtime.GOOS, url)
	if err := launch(ctx, name, args...); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

// launch starts name detached from ctx cancellation and reaps it in the
// background.
func launch(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		return "open", []string{url}
	default:
		return "xdg-open", []string{url}
	}
}
