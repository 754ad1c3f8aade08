package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/forkterm/internal/agent"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/credential"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/spf13/cobra"
)

// CredentialStatusJSON reports where a credential resolved from. It never
// carries the value.
type CredentialStatusJSON struct {
	Name   string   `json:"name"`
	Agents []string `json:"agents,omitempty"`
	Found  bool     `json:"found"`
	Source string   `json:"source,omitempty"`
	Length int      `json:"length,omitempty"`
}

var credsCmd = &cobra.Command{
	Use:     "creds",
	Aliases: []string{"credentials"},
	Short:   "Manage API keys for agents and the sandbox service",
	Long: `Keys are looked up in order: environment, OS keychain, .env in the working
directory, then each tool's own config file. "creds set" stores a key in the
OS keychain. Values are never printed.`,
}

var credsSetCmd = &cobra.Command{
	Use:   "set <NAME>",
	Short: "Store a key in the OS keychain",
	Long: `Store a key in the OS keychain. In a terminal you're prompted for the
value with input hidden; otherwise the first line of stdin is used.

Examples:
  forkterm creds set ANTHROPIC_API_KEY
  printf '%s\n' "$KEY" | forkterm creds set E2B_API_KEY`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		var value string
		var err error
		if isTerminal(cmd.InOrStdin()) {
			value, err = promptSecret(name)
		} else {
			value, err = readSecret(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return credsSet(cmd.OutOrStdout(), name, value)
	},
}

var credsForgetCmd = &cobra.Command{
	Use:     "forget <NAME>",
	Aliases: []string{"rm"},
	Short:   "Remove a key from the OS keychain",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return credsForget(cmd.OutOrStdout(), args[0])
	},
}

var credsPassphraseCmd = &cobra.Command{
	Use:   "passphrase <key-path>",
	Short: "Store the passphrase for an encrypted SSH key",
	Long: `Store the passphrase for an encrypted SSH private key in the OS keychain.
It's used to unlock the key when the SSH agent doesn't hold it.

Example:
  forkterm creds passphrase ~/.ssh/id_ed25519`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value string
		var err error
		if isTerminal(cmd.InOrStdin()) {
			value, err = promptSecret("Passphrase for " + args[0])
		} else {
			value, err = readSecret(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return credsPassphrase(cmd.OutOrStdout(), args[0], value)
	},
}

var credsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which keys resolve and from where",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadSettings()
		if err != nil {
			return err
		}
		return credsStatus(cmd.OutOrStdout(), a.catalog, a.creds)
	},
}

func init() {
	credsCmd.AddCommand(credsSetCmd, credsForgetCmd, credsPassphraseCmd, credsStatusCmd)
	rootCmd.AddCommand(credsCmd)
}

func credsSet(out io.Writer, name, value string) error {
	if err := validCredentialName(name); err != nil {
		return err
	}
	if value == "" {
		return errors.New(errors.ErrAuth, fmt.Sprintf("No value given for %s", name),
			"Enter the key at the prompt or pipe it on stdin.")
	}
	if err := credential.Store(name, value); err != nil {
		return errors.WrapWithCode(err, errors.ErrAuth,
			fmt.Sprintf("Couldn't store %s in the OS keychain", name),
			"Export it as an environment variable or put it in .env instead.")
	}
	if jsonOutput {
		return WriteJSONSuccess(out, CredentialStatusJSON{
			Name: name, Found: true, Source: credential.SourceKeychain, Length: len(value),
		})
	}
	fmt.Fprintf(out, "%s Stored %s in the keychain (%d chars)\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess), name, len(value))
	return nil
}

func credsForget(out io.Writer, name string) error {
	if err := validCredentialName(name); err != nil {
		return err
	}
	if err := credential.Forget(name); err != nil {
		return errors.WrapWithCode(err, errors.ErrAuth,
			fmt.Sprintf("Couldn't remove %s from the OS keychain", name), "")
	}
	if jsonOutput {
		return WriteJSONSuccess(out, map[string]string{"forgotten": name})
	}
	fmt.Fprintf(out, "%s Removed %s from the keychain\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}

func credsPassphrase(out io.Writer, keyPath, value string) error {
	abs, err := filepath.Abs(config.ExpandTilde(keyPath))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Invalid key path: "+keyPath, "")
	}
	if info, err := os.Stat(abs); err != nil || !info.Mode().IsRegular() {
		return errors.New(errors.ErrConfig,
			"No SSH key at "+abs,
			"Pass the path of the private key, e.g. ~/.ssh/id_ed25519.")
	}
	if value == "" {
		return errors.New(errors.ErrAuth, "No passphrase given for "+abs,
			"Enter it at the prompt or pipe it on stdin.")
	}
	if err := credential.StorePassphrase(abs, value); err != nil {
		return errors.WrapWithCode(err, errors.ErrAuth,
			"Couldn't store the passphrase in the OS keychain",
			"Load the key into the SSH agent instead: ssh-add "+abs)
	}
	if jsonOutput {
		return WriteJSONSuccess(out, map[string]string{"key_path": abs, "source": credential.SourceKeychain})
	}
	fmt.Fprintf(out, "%s Stored the passphrase for %s in the keychain\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess), abs)
	return nil
}

func credsStatus(out io.Writer, catalog *agent.Catalog, creds *credential.Resolver) error {
	users := map[string][]string{agent.SandboxCredential: {"sandbox"}}
	for _, a := range catalog.Agents() {
		spec, _ := catalog.Get(a)
		if spec.CredentialEnv != "" {
			users[spec.CredentialEnv] = append(users[spec.CredentialEnv], string(a))
		}
	}
	names := make([]string, 0, len(users))
	for n := range users {
		names = append(names, n)
	}
	sort.Strings(names)

	statuses := make([]CredentialStatusJSON, 0, len(names))
	for _, n := range names {
		st := CredentialStatusJSON{Name: n, Agents: users[n]}
		if c, ok := creds.Resolve(n); ok {
			st.Found = true
			st.Source = c.Source
			st.Length = len(c.Value)
		}
		statuses = append(statuses, st)
	}

	if jsonOutput {
		return WriteJSONSuccess(out, statuses)
	}

	values := make(map[string]string, len(statuses))
	for _, st := range statuses {
		used := strings.Join(st.Agents, ", ")
		if st.Found {
			values[st.Name] = fmt.Sprintf("%s %s, %d chars (%s)",
				ui.SuccessStyle().Render(ui.SymbolSuccess), st.Source, st.Length, used)
		} else {
			values[st.Name] = fmt.Sprintf("%s not found (%s)",
				ui.ErrorStyle().Render(ui.SymbolFail), used)
		}
	}
	fmt.Fprint(out, ui.RenderKeyValues(names, values))
	fmt.Fprintln(out, ui.MutedStyle().Render("Lookup order: "+strings.Join(creds.Sources(), " → ")))
	return nil
}

func promptSecret(name string) (string, error) {
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(name).
				Description("Stored in the OS keychain. Input is hidden.").
				EchoMode(huh.EchoModePassword).
				Value(&value).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("value is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't get your input",
			fmt.Sprintf("Pipe the value instead: printf '%%s\\n' \"$KEY\" | forkterm creds set %s", name))
	}
	return strings.TrimSpace(value), nil
}

// readSecret returns the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.WrapWithCode(err, errors.ErrConfig, "Couldn't read the value from stdin", "")
	}
	return strings.TrimSpace(line), nil
}

func validCredentialName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n=") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Invalid credential name %q", name),
			"Use the environment variable name, e.g. ANTHROPIC_API_KEY.")
	}
	return nil
}
