package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/forkterm/internal/config"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/rileyhilliard/forkterm/internal/util"
	"github.com/spf13/cobra"
)

// HostAddOptions holds options for the hosts add command.
type HostAddOptions struct {
	Name        string
	Hostname    string
	User        string
	Port        int
	KeyPath     string
	GPU         bool
	CUDAPath    string
	Environment map[string]string
	ShareLocal  string
	ShareRemote string
	Force       bool
}

var (
	hostAddOpts   HostAddOptions
	hostRemoveYes bool
)

// HostJSON is a configured host as printed by `hosts list --json`.
type HostJSON struct {
	Name        string            `json:"name"`
	Hostname    string            `json:"hostname"`
	Port        int               `json:"port"`
	User        string            `json:"user"`
	KeyPath     string            `json:"key_path,omitempty"`
	GPU         bool              `json:"gpu"`
	CUDAPath    string            `json:"cuda_path,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	FileShare   *config.FileShare `json:"file_share,omitempty"`
}

var hostsCmd = &cobra.Command{
	Use:     "hosts",
	Aliases: []string{"host"},
	Short:   "Manage SSH hosts",
	Long: `List, add, and remove the named SSH hosts that requests like
"on dgx: nvidia-smi" resolve against.

Hosts live in ~/.config/forkterm/hosts.yaml. Missing hostname, user, port,
and key fields are filled from ~/.ssh/config.`,
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadSettings()
		if err != nil {
			return err
		}
		return hostsList(cmd.OutOrStdout(), a.hosts)
	},
}

var hostsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add or replace a host",
	Long: `Add a host to the hosts file. Run without flags in a terminal to be
prompted for each field.

Examples:
  forkterm hosts add
  forkterm hosts add dgx --hostname dgx.lab --user ml --gpu --cuda /usr/local/cuda
  forkterm hosts add ws --hostname 10.0.0.5 --share-local /mnt/ws --share-remote /srv/share`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := hostAddOpts
		if len(args) == 1 {
			opts.Name = args[0]
		}
		a, err := loadSettings()
		if err != nil {
			return err
		}
		if (opts.Name == "" || opts.Hostname == "") && isTerminal(cmd.InOrStdin()) {
			if err := promptHost(&opts); err != nil {
				return err
			}
		}
		return hostsAdd(cmd.OutOrStdout(), a.cfg.HostsFile, a.hosts, opts)
	},
}

var hostsRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Remove a host",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadSettings()
		if err != nil {
			return err
		}
		interactive := isTerminal(cmd.InOrStdin())

		name := ""
		if len(args) == 1 {
			name = args[0]
		} else if interactive && a.hosts.Len() > 0 {
			if name, err = pickHost(a.hosts); err != nil {
				return err
			}
		}
		if name == "" {
			return errors.New(errors.ErrConfig, "Which host?",
				"Pass the host name: forkterm hosts remove <name>")
		}

		if !hostRemoveYes && interactive {
			confirmed, err := confirmRemove(name)
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}
		return hostsRemove(cmd.OutOrStdout(), a.cfg.HostsFile, a.hosts, name)
	},
}

func init() {
	f := hostsAddCmd.Flags()
	f.StringVar(&hostAddOpts.Hostname, "hostname", "", "hostname or IP to dial")
	f.StringVar(&hostAddOpts.User, "user", "", "SSH user (default from ~/.ssh/config or $USER)")
	f.IntVar(&hostAddOpts.Port, "port", 0, "SSH port (default 22)")
	f.StringVar(&hostAddOpts.KeyPath, "key", "", "private key path")
	f.BoolVar(&hostAddOpts.GPU, "gpu", false, "probe GPUs with nvidia-smi before each run")
	f.StringVar(&hostAddOpts.CUDAPath, "cuda", "", "CUDA install prefix added to PATH and LD_LIBRARY_PATH")
	f.StringToStringVar(&hostAddOpts.Environment, "env", nil, "environment exported before each run (NAME=value)")
	f.StringVar(&hostAddOpts.ShareLocal, "share-local", "", "local mount of a share the host also sees")
	f.StringVar(&hostAddOpts.ShareRemote, "share-remote", "", "where the host sees that share")
	f.BoolVarP(&hostAddOpts.Force, "force", "f", false, "replace an existing host with the same name")

	hostsRemoveCmd.Flags().BoolVarP(&hostRemoveYes, "yes", "y", false, "don't ask for confirmation")

	hostsCmd.AddCommand(hostsListCmd, hostsAddCmd, hostsRemoveCmd)
	rootCmd.AddCommand(hostsCmd)
}

func hostsList(out io.Writer, hosts *config.HostStore) error {
	names := hosts.Names()

	if jsonOutput {
		data := make([]HostJSON, 0, len(names))
		for _, name := range names {
			h, _ := hosts.Get(name)
			data = append(data, HostJSON{
				Name:        h.Name,
				Hostname:    h.Hostname,
				Port:        port(h),
				User:        h.User,
				KeyPath:     h.KeyPath,
				GPU:         h.GPU,
				CUDAPath:    h.CUDAPath,
				Environment: h.Environment,
				FileShare:   h.FileShare,
			})
		}
		return WriteJSONSuccess(out, data)
	}

	rows := make([]ui.HostRow, 0, len(names))
	for _, name := range names {
		h, _ := hosts.Get(name)
		row := ui.HostRow{
			Name:    h.Name,
			Address: fmt.Sprintf("%s@%s:%d", h.User, h.Hostname, port(h)),
			GPU:     h.GPU,
		}
		if h.FileShare != nil {
			row.Share = h.FileShare.LocalMount + " -> " + h.FileShare.RemotePath
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(out, ui.RenderHostTable(rows))
	for _, p := range hosts.Problems() {
		ui.FprintWarning(out, errors.As(p).Message)
	}
	return nil
}

func hostsAdd(out io.Writer, path string, hosts *config.HostStore, opts HostAddOptions) error {
	name := strings.TrimSpace(opts.Name)
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return errors.New(errors.ErrConfig, "Host name is required and can't contain spaces",
			"Pass a name, e.g. forkterm hosts add dgx --hostname dgx.lab")
	}
	if strings.TrimSpace(opts.Hostname) == "" {
		return errors.New(errors.ErrConfig, "Hostname is required",
			"Pass --hostname with the address to dial.")
	}
	if _, exists := hosts.Get(name); exists && !opts.Force {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' already exists", name),
			"Pass --force to replace it, or remove it first.")
	}

	h := config.HostConfig{
		Name:        name,
		Hostname:    strings.TrimSpace(opts.Hostname),
		Port:        opts.Port,
		User:        opts.User,
		KeyPath:     opts.KeyPath,
		GPU:         opts.GPU,
		CUDAPath:    opts.CUDAPath,
		Environment: opts.Environment,
	}
	if opts.ShareLocal != "" || opts.ShareRemote != "" {
		h.FileShare = &config.FileShare{LocalMount: opts.ShareLocal, RemotePath: opts.ShareRemote}
	}

	if err := config.AddHost(path, h); err != nil {
		return err
	}
	if jsonOutput {
		return WriteJSONSuccess(out, map[string]string{"added": name, "hosts_file": path})
	}
	fmt.Fprintf(out, "%s Added host '%s' to %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name, path)
	return nil
}

func hostsRemove(out io.Writer, path string, hosts *config.HostStore, name string) error {
	if _, ok := hosts.Get(name); !ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' not found", name),
			fmt.Sprintf("Configured hosts: %s", util.JoinOrNone(hosts.Names())))
	}
	if err := config.RemoveHost(path, name); err != nil {
		return err
	}
	if jsonOutput {
		return WriteJSONSuccess(out, map[string]string{"removed": name, "hosts_file": path})
	}
	fmt.Fprintf(out, "%s Removed host '%s'\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}

// promptHost fills in missing fields with a huh form.
func promptHost(opts *HostAddOptions) error {
	portStr := ""
	if opts.Port > 0 {
		portStr = strconv.Itoa(opts.Port)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host name").
				Description("What requests call it, as in 'on <name>: ...'").
				Placeholder("dgx").
				Value(&opts.Name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("host name is required")
					}
					if strings.ContainsAny(s, " \t\n") {
						return fmt.Errorf("host name cannot contain whitespace")
					}
					return nil
				}),
			huh.NewInput().
				Title("Hostname").
				Description("Address to dial").
				Placeholder("dgx.lab or 10.0.0.5").
				Value(&opts.Hostname).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("hostname is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("User (optional)").
				Placeholder("leave empty for ~/.ssh/config or $USER").
				Value(&opts.User),
			huh.NewInput().
				Title("Port (optional)").
				Placeholder("22").
				Value(&portStr).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if n, err := strconv.Atoi(s); err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Does it have NVIDIA GPUs?").
				Value(&opts.GPU),
		),
	)
	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get your input",
			"Pass the fields as flags instead: forkterm hosts add <name> --hostname <addr>")
	}
	if portStr != "" {
		opts.Port, _ = strconv.Atoi(portStr)
	}
	return nil
}

func pickHost(hosts *config.HostStore) (string, error) {
	names := hosts.Names()
	sort.Strings(names)
	options := make([]huh.Option[string], len(names))
	for i, n := range names {
		h, _ := hosts.Get(n)
		options[i] = huh.NewOption(fmt.Sprintf("%s (%s)", n, h.Hostname), n)
	}

	var name string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select host to remove").
				Options(options...).
				Value(&name),
		),
	)
	if err := form.Run(); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't get your selection",
			"Try again or use: forkterm hosts remove <name>")
	}
	return name, nil
}

func confirmRemove(name string) (bool, error) {
	var confirm bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Remove host '%s'?", name)).
				Description("Pooled connections and staged files aren't affected").
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't get your input",
			"Pass --yes to skip the prompt.")
	}
	return confirm, nil
}

func port(h config.HostConfig) int {
	if h.Port == 0 {
		return 22
	}
	return h.Port
}
