package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/config"
)

var watchMetricsAddr string

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configWatchCmd)
	configWatchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the settings file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings and their hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, hash, err := loadSettings()
		if err != nil {
			return err
		}
		w := stdout(cmd)
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# %s\n# %s\n", displayPath(), hash)
		fmt.Fprint(w, string(out))
		return nil
	},
}

var configWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the settings file on change",
	Long: "Watches the settings file and logs every reload, the same way an\n" +
		"embedding host picks up edits. Invalid edits are rejected and the\n" +
		"previous settings stay in force.",
	RunE: runConfigWatch,
}

func runConfigWatch(cmd *cobra.Command, args []string) error {
	rec := &alert.Recorder{}
	c, err := newClient(rec)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nStopping config watch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var srv *http.Server
	if watchMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.MetricsHandler())
		srv = &http.Server{Addr: watchMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "warning: metrics server: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "metrics on %s/metrics\n", watchMetricsAddr)
	}

	fmt.Fprintf(os.Stderr, "watching %s (hash %s)\n", displayPath(), c.Status().ConfigHash)
	err = c.Watch(ctx)

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}
	return err
}

func displayPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
