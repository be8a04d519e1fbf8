package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"warden/internal/domain"
)

func newScanCommand(opts *options) *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "scan [host]",
		Short: "Run a security header scan and follow its progress",
		Long: `scan submits the host (or, without an argument, the root domain of the
last visited site) to the scanner and follows the job until it finishes,
times out or fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			host := ""
			if len(args) == 1 {
				host = args[0]
			}

			client := opts.client()
			id, err := client.StartScan(cmd.Context(), host)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if detach {
				fmt.Fprintln(out, id)
				return nil
			}

			status := newStatusLine(out)
			job, err := client.WatchScan(cmd.Context(), id, func(job domain.ScanJob) {
				if opts.output == "text" {
					status.update(job.Status)
				}
			})
			status.done()
			if err != nil {
				return err
			}

			if job.ID.String() != id || !job.State.IsTerminal() {
				// The stream ended early; fall back to the stored snapshot.
				if job, err = client.Scan(cmd.Context(), id); err != nil {
					return err
				}
			}
			return writeOutput(out, opts, job, func(w io.Writer) {
				printScan(w, job)
			})
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Print the job id and return without following progress")
	return cmd
}

func printScan(w io.Writer, job domain.ScanJob) {
	fmt.Fprintf(w, "Host:     %s\n", job.Host)
	fmt.Fprintf(w, "State:    %s\n", job.State)
	fmt.Fprintf(w, "Attempts: %d\n", job.Attempt)
	if job.Result != nil && job.Result.Grade != nil {
		fmt.Fprintf(w, "Grade:    %s\n", *job.Result.Grade)
	}
	if job.Err != "" {
		fmt.Fprintf(w, "Error:    %s\n", job.Err)
	}
	if job.Result != nil && job.Result.Informational {
		fmt.Fprintln(w, "The scanner returned no scan id; its response is shown as is.")
		fmt.Fprintln(w, string(job.Result.Raw))
	}
}

// statusLine rewrites a single line on terminals and prints one line per
// update everywhere else.
type statusLine struct {
	w        io.Writer
	inPlace  bool
	last     string
	longest  int
	finished bool
}

func newStatusLine(w io.Writer) *statusLine {
	inPlace := false
	if f, ok := w.(*os.File); ok {
		inPlace = term.IsTerminal(int(f.Fd()))
	}
	return &statusLine{w: w, inPlace: inPlace}
}

func (s *statusLine) update(status string) {
	if status == "" || status == s.last {
		return
	}
	s.last = status
	if !s.inPlace {
		fmt.Fprintln(s.w, status)
		return
	}
	pad := ""
	if n := s.longest - len(status); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	if len(status) > s.longest {
		s.longest = len(status)
	}
	fmt.Fprintf(s.w, "\r%s%s", status, pad)
}

func (s *statusLine) done() {
	if s.finished {
		return
	}
	s.finished = true
	if s.inPlace && s.last != "" {
		fmt.Fprintln(s.w)
	}
}
