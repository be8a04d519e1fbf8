package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"warden/internal/broker"
	"warden/internal/domain"
)

func writeOutput(w io.Writer, opts *options, value any, text func(io.Writer)) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	text(w)
	return nil
}

func printRecord(w io.Writer, record domain.ReputationRecord) {
	verdict := "Safe"
	if record.Unsafe {
		verdict = "Unsafe"
	}
	ip := record.IP()
	if ip == "" {
		ip = "-"
	}
	fmt.Fprintf(w, "Domain:      %s\n", record.Domain)
	if record.RootDomain != "" && record.RootDomain != record.Domain {
		fmt.Fprintf(w, "Root domain: %s\n", record.RootDomain)
	}
	fmt.Fprintf(w, "Verdict:     %s\n", verdict)
	fmt.Fprintf(w, "IP address:  %s\n", ip)
	if record.Country != "" {
		fmt.Fprintf(w, "Country:     %s\n", record.Country)
	}
	fmt.Fprintf(w, "Phishing:    %t\n", record.Phishing)
	fmt.Fprintf(w, "Malware:     %t\n", record.Malware)
	fmt.Fprintf(w, "Spamming:    %t\n", record.Spamming)
	fmt.Fprintf(w, "Risk score:  %g\n", record.RiskScore)
}

func newVisitCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "visit <url>",
		Short: "Record a page visit and look up the site's reputation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := opts.client().Visit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts, record, func(w io.Writer) {
				printRecord(w, record)
				if record.Unsafe {
					fmt.Fprintln(w, domain.NewAdvisory(record.Domain, record).Message)
				}
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the reputation of the last visited site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := opts.client().Reputation(cmd.Context())
			if errors.Is(err, domain.ErrNotReady) {
				notReady := broker.Reply{Kind: broker.ReplyNotReady}
				return writeOutput(cmd.OutOrStdout(), opts, notReady, func(w io.Writer) {
					fmt.Fprintln(w, "No site visited yet.")
				})
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts, record, func(w io.Writer) {
				printRecord(w, record)
			})
		},
	}
}

func newBlockingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "blocking [on|off]",
		Short:     "Show or toggle content blocking",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			if len(args) == 0 {
				status, err := client.Blocking(cmd.Context())
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), opts, status, func(w io.Writer) {
					fmt.Fprintf(w, "Blocking is %s (engine ready: %t)\n", status.Mode, status.EngineReady)
				})
			}

			var text string
			switch strings.ToLower(args[0]) {
			case "on", "enable", "enabled":
				text = broker.TextEnableBlocking
			case "off", "disable", "disabled":
				text = broker.TextDisableBlocking
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}

			reply, err := client.Send(cmd.Context(), map[string]string{"text": text})
			if reply.Kind == broker.ReplyEngineNotReady {
				return fmt.Errorf("blocking engine is still loading; mode stays %s", reply.Mode)
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts, reply, func(w io.Writer) {
				fmt.Fprintf(w, "Blocking is now %s\n", reply.Mode)
			})
		},
	}
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Check whether the blocking engine would refuse a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check, err := opts.client().CheckBlocked(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts, check, func(w io.Writer) {
				if check.Blocked {
					fmt.Fprintf(w, "%s would be blocked\n", check.URL)
				} else {
					fmt.Fprintf(w, "%s is allowed\n", check.URL)
				}
			})
		},
	}
}

func newReportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report [url]",
		Short: "Prepare an abuse report for a site",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageURL := ""
			if len(args) == 1 {
				pageURL = args[0]
			}
			rep, err := opts.client().Report(cmd.Context(), pageURL)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts, rep, func(w io.Writer) {
				fmt.Fprintf(w, "To:      %s\nSubject: %s\n\n%s\n\n%s\n", rep.Recipient, rep.Subject, rep.Body, rep.Mailto)
			})
		},
	}
}
