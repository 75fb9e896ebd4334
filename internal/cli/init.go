package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/incognito/internal/config"
)

var (
	initMode  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.incognito) or system (/etc/incognito)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Creates the config directory and a config.yaml holding every default.

User mode (default):  writes to ~/.incognito/
System mode:          writes to /etc/incognito/ (requires root)`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}
	w := stdout(cmd)

	content, err := defaultConfigYAML()
	if err != nil {
		return fmt.Errorf("generate default config: %w", err)
	}
	path := filepath.Join(configDir, "config.yaml")
	wrote, err := writeIfMissing(path, content)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "incognito init complete.")
	fmt.Fprintln(w)
	if wrote {
		fmt.Fprintf(w, "Created:\n  %s\n\n", path)
	} else {
		fmt.Fprintln(w, "Config already exists (use --force to overwrite).")
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Verify:")
	fmt.Fprintf(w, "  incognito config show --config %s\n", path)
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/incognito", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".incognito"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultConfigYAML renders the built-in settings with a short header.
func defaultConfigYAML() (string, error) {
	data, err := yaml.Marshal(config.DefaultSettings())
	if err != nil {
		return "", err
	}
	header := "# incognito settings.\n" +
		"# identity_mode: vanilla | fabric | forge | custom\n" +
		"# Changes are picked up live by `incognito config watch` and SDK hosts\n" +
		"# that call Watch.\n\n"
	return header + string(data), nil
}
