package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/sdk/go/incognito"
)

var (
	fetchServer string
	fetchOutput string
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchServer, "server", "", "Server address the session is connected to (host:port)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write the body to this file")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a URL through the redirect guard",
	Long: "Follows redirects one hop at a time and refuses any hop into the\n" +
		"local network, the way a server-pushed resource download is handled.\n" +
		"Exit code 1 if the download is refused.",
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	rec := &alert.Recorder{}
	c, err := newClient(rec)
	if err != nil {
		return err
	}
	defer c.Close()

	w := stdout(cmd)
	ctx := cmd.Context()
	if fetchServer != "" {
		c.SessionConnected(ctx, fetchServer)
	}

	resp, err := c.Fetch(ctx, args[0])
	if err != nil {
		var lre *incognito.LocalRedirectError
		if errors.As(err, &lre) {
			fmt.Fprintf(w, "REFUSED %s\n", lre)
			printNotices(w, rec)
		}
		return err
	}
	defer resp.Body.Close()

	var dst io.Writer = io.Discard
	if fetchOutput != "" {
		f, err := os.Create(fetchOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		dst = f
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	fmt.Fprintf(w, "%s %s (%d bytes)\n", resp.Status, resp.Request.URL, n)
	printNotices(w, rec)
	return nil
}
