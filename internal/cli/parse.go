package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/intent"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse <request>",
	Short: "Show how a request would be routed without running it",
	Long: `Parse a request and print the backend, agent, tier, payload, and host
it resolves to. Nothing is run and no credentials are read.

Examples:
  forkterm parse "fork terminal use gemini in sandbox to summarize data.csv auto-close"
  forkterm parse --json "on dgx: nvidia-smi"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadSettings()
		if err != nil {
			return err
		}
		return parseCommand(cmd.OutOrStdout(), a.parser, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func parseCommand(out io.Writer, p *intent.Parser, text string) error {
	req, err := p.Parse(text)
	if err != nil {
		return err
	}
	if jsonOutput {
		return WriteJSONSuccess(out, requestToJSON(req))
	}

	keys := []string{"backend", "agent", "tier", "auto-close", "payload"}
	values := map[string]string{
		"backend":    string(req.Backend()),
		"agent":      string(req.Agent()),
		"tier":       string(req.Tier()),
		"auto-close": strconv.FormatBool(req.AutoClose()),
		"payload":    strconv.Quote(req.Payload()),
	}
	if req.TargetHost() != "" {
		keys = append(keys[:1], append([]string{"host"}, keys[1:]...)...)
		values["host"] = req.TargetHost()
	}
	_, err = fmt.Fprint(out, ui.RenderKeyValues(keys, values))
	return err
}
