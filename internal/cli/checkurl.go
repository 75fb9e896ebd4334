package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/sdk/go/incognito"
)

var (
	checkServer string
	checkFormat string
)

func init() {
	rootCmd.AddCommand(checkURLCmd)
	checkURLCmd.Flags().StringVar(&checkServer, "server", "", "Server address the session is connected to (host:port)")
	checkURLCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkURLCmd = &cobra.Command{
	Use:   "check-url <url>...",
	Short: "Check resource push URLs against the local-origin guard",
	Long: "Runs each URL through the resource push check as if the server named by\n" +
		"--server had pushed it. Local URLs are allowed on LAN servers and\n" +
		"rewritten to a failing URL everywhere else when blocking is enabled.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheckURL,
}

type checkURLReport struct {
	Session  incognito.SessionState   `json:"session"`
	Requests []incognito.PushDecision `json:"requests"`
	Alerts   []alert.Notice           `json:"alerts,omitempty"`
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	rec := &alert.Recorder{}
	c, err := newClient(rec)
	if err != nil {
		return err
	}
	defer c.Close()

	report := checkURLs(cmd.Context(), c, checkServer, args)
	for _, n := range rec.Notices() {
		if n.Kind == "alert" {
			report.Alerts = append(report.Alerts, n)
		}
	}
	return printCheckURL(stdout(cmd), report, checkFormat)
}

func checkURLs(ctx context.Context, c *incognito.Client, server string, urls []string) *checkURLReport {
	if ctx == nil {
		ctx = context.Background()
	}
	report := &checkURLReport{}
	if server != "" {
		report.Session = c.SessionConnected(ctx, server)
	}
	for _, u := range urls {
		original := u
		_, d := c.HandleResourcePush(ctx, incognito.ResourcePushMessage{URL: u})
		d.URL = original
		report.Requests = append(report.Requests, d)
	}
	return report
}

func printCheckURL(w io.Writer, r *checkURLReport, format string) error {
	if format == "json" {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	if r.Session.Active {
		trust := "untrusted"
		if r.Session.Trusted {
			trust = "trusted (local network)"
		}
		fmt.Fprintf(w, "session: %s %s\n\n", r.Session.RemoteAddress, trust)
	}
	for _, d := range r.Requests {
		status := "PASS"
		switch {
		case d.Blocked:
			status = "BLOCK"
		case d.Local:
			status = "LOCAL"
		}
		fmt.Fprintf(w, "  %-6s %s", status, d.URL)
		if d.Reason != "" {
			fmt.Fprintf(w, "  (%s)", d.Reason)
		}
		fmt.Fprintln(w)
	}
	if len(r.Alerts) > 0 {
		fmt.Fprintln(w, "\nalerts:")
		for _, n := range r.Alerts {
			fmt.Fprintf(w, "  [%s] %s\n", n.Severity, n.Text)
		}
	}
	return nil
}
