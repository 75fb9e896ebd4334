package cli

import (
	"fmt"
	"io"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/sdk/go/incognito"
)

// clientOptions is appended to every client the commands build. Tests use it
// to swap the resolver and transport.
var clientOptions []incognito.Option

// newClient builds an SDK client from --config, recording notices in rec.
func newClient(rec *alert.Recorder) (*incognito.Client, error) {
	cfg, _, err := loadSettings()
	if err != nil {
		return nil, err
	}
	opts := []incognito.Option{
		incognito.WithConfigPath(configPath),
		incognito.WithLogger(newLogger(cfg)),
		incognito.WithSink(rec),
	}
	return incognito.New(append(opts, clientOptions...)...)
}

// printNotices lists the alerts and toasts a run produced.
func printNotices(w io.Writer, rec *alert.Recorder) {
	var shown int
	for _, n := range rec.Notices() {
		if n.Kind != "alert" {
			continue
		}
		if shown == 0 {
			fmt.Fprintln(w, "\nalerts:")
		}
		fmt.Fprintf(w, "  [%s] %s\n", n.Severity, n.Text)
		shown++
	}
}
