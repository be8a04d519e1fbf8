package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/app/version"
	"warden/internal/support"
)

const defaultServerURL = "http://localhost:8085"

type options struct {
	server  string
	timeout time.Duration
	output  string
}

// NewRootCommand builds the wardenctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "wardenctl",
		Short:   "Control a running warden daemon",
		Version: version.Get().BuildVersion,
		Long: `wardenctl talks to the warden HTTP API: it records page visits,
reads the current reputation verdict, toggles content blocking, runs
security scans and prepares abuse reports.`,
		Example: `  wardenctl visit https://example.com
  wardenctl status
  wardenctl blocking off
  wardenctl scan example.com
  wardenctl report https://example.com/login`,
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.server, "server", "s", support.GetEnv("WARDEN_URL", defaultServerURL), "Base URL of the warden API")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for individual API requests")
	f.StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		newVisitCommand(opts),
		newStatusCommand(opts),
		newBlockingCommand(opts),
		newCheckCommand(opts),
		newScanCommand(opts),
		newReportCommand(opts),
	)
	return root
}

func (o *options) client() *Client {
	return NewClient(o.server, o.timeout)
}

func (o *options) validate() error {
	if o.output != "text" && o.output != "json" {
		return fmt.Errorf("unsupported output format %q", o.output)
	}
	return nil
}

// Execute runs wardenctl with the process arguments.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
