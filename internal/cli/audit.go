package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/incognito/internal/audit"
)

var auditFormat string

func init() {
	auditVerifyCmd.Flags().StringVarP(&auditFormat, "format", "f", "text", "Output format (text|json)")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the notice journal",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <journal.jsonl>",
	Short: "Verify the journal hash chain",
	Long:  "Checks that every entry references the hash of the entry before it.\nExit code 1 if the chain is broken.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := audit.Verify(args[0])
		w := stdout(cmd)
		if auditFormat == "json" {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(out))
		} else if result.Valid {
			fmt.Fprintf(w, "OK: %d entries, chain intact (%d alerts, %d toasts, %d detections)\n",
				result.Lines, result.Kinds["alert"], result.Kinds["toast"], result.Kinds["detection"])
		} else {
			fmt.Fprintf(w, "BROKEN at line %d: %s\n", result.ErrorLine, result.Error)
			if b := result.Broken; b != nil {
				fmt.Fprintf(w, "  entry %s kind=%s category=%s ts=%s\n", b.ID, b.Kind, b.Category, b.Timestamp)
			}
		}
		if !result.Valid {
			os.Exit(1)
		}
		return nil
	},
}
