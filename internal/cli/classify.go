package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/incognito/internal/capability"
	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/model"
)

var (
	classifyMode     string
	classifyRegister bool
	classifyFormat   string
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyMode, "mode", "", "Identity mode override (vanilla|fabric|forge|custom)")
	classifyCmd.Flags().BoolVar(&classifyRegister, "register", false, "Treat the arguments as one channel registration")
	classifyCmd.Flags().StringVarP(&classifyFormat, "format", "f", "text", "Output format (text|json)")
}

var classifyCmd = &cobra.Command{
	Use:   "classify <channel>...",
	Short: "Show what the capability filter does with outbound channels",
	Long: "Classifies each channel (namespace:path, bare paths are native) under\n" +
		"the configured identity mode. With --register the channels are treated\n" +
		"as a single registration message and the rewritten list is shown.",
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

type channelResult struct {
	Channel string       `json:"channel"`
	Action  model.Action `json:"action"`
	Reason  string       `json:"reason,omitempty"`
}

type classifyReport struct {
	Mode         model.IdentityMode `json:"mode"`
	Identity     string             `json:"identity"`
	Channels     []channelResult    `json:"channels,omitempty"`
	Registration *model.Verdict     `json:"registration,omitempty"`
	Advertised   []string           `json:"advertised,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadSettings()
	if err != nil {
		return err
	}
	report, err := classify(cfg, classifyMode, classifyRegister, args)
	if err != nil {
		return err
	}
	return printClassify(stdout(cmd), report, classifyFormat)
}

func classify(cfg *config.Settings, mode string, register bool, args []string) (*classifyReport, error) {
	channels := make([]model.Channel, 0, len(args))
	for _, a := range args {
		ch, err := model.ParseChannel(a)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	p, ok := cfg.Profile()
	if mode != "" {
		p.Mode = model.ParseIdentityMode(mode)
		p.ChannelEnforcement = cfg.Spoof.ChannelEnforcement
		p.CustomIdentity = cfg.Spoof.CustomIdentity
		ok = true
	}
	report := &classifyReport{Mode: model.ModeNative, Identity: "vanilla"}
	if ok {
		report.Mode = p.Mode
		report.Identity = capability.Identity(&p, "vanilla")
	}
	// With spoofing off the zero profile does not enforce, so everything passes.

	if register {
		v := capability.Apply(model.RegistrationMessage{ID: model.ChannelRegister, Channels: channels}, p)
		report.Registration = &v
	} else {
		for _, ch := range channels {
			v := capability.Classify(ch, p)
			report.Channels = append(report.Channels, channelResult{Channel: ch.String(), Action: v.Action, Reason: v.Reason})
		}
	}

	adv, _ := capability.FilterAdvertised(channels, p)
	for _, ch := range adv {
		report.Advertised = append(report.Advertised, ch.String())
	}
	return report, nil
}

func printClassify(w io.Writer, r *classifyReport, format string) error {
	if format == "json" {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	fmt.Fprintf(w, "mode:     %s\n", r.Mode)
	fmt.Fprintf(w, "identity: %s\n\n", r.Identity)
	for _, c := range r.Channels {
		fmt.Fprintf(w, "  %-8s %-40s %s\n", strings.ToUpper(string(c.Action)), c.Channel, c.Reason)
	}
	if r.Registration != nil {
		fmt.Fprintf(w, "registration: %s", r.Registration.Action)
		if r.Registration.Reason != "" {
			fmt.Fprintf(w, " (%s)", r.Registration.Reason)
		}
		fmt.Fprintln(w)
		for _, ch := range r.Registration.Channels {
			fmt.Fprintf(w, "  %s\n", ch)
		}
	}
	fmt.Fprintf(w, "\nadvertised: %d channel(s)\n", len(r.Advertised))
	for _, ch := range r.Advertised {
		fmt.Fprintf(w, "  %s\n", ch)
	}
	return nil
}
