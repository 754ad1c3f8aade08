package local

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// Launcher opens a new interactive terminal window running a command.
type Launcher interface {
	Name() string
	Launch(ctx context.Context, command, workDir string) error
}

// starter starts argv without waiting for the window to close.
type starter func(ctx context.Context, argv []string) error

func startDetached(_ context.Context, argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// linuxTerminals are tried in order; each takes the command after its flag.
var linuxTerminals = []struct {
	bin  string
	flag []string
}{
	{"x-terminal-emulator", []string{"-e"}},
	{"gnome-terminal", []string{"--"}},
	{"konsole", []string{"-e"}},
	{"xfce4-terminal", []string{"-x"}},
	{"alacritty", []string{"-e"}},
	{"kitty", nil},
	{"xterm", []string{"-e"}},
}

// terminalLauncher builds the argv for one platform.
type terminalLauncher struct {
	name  string
	argv  func(command, workDir string) []string
	start starter
}

func (l terminalLauncher) Name() string { return l.name }

func (l terminalLauncher) Launch(ctx context.Context, command, workDir string) error {
	if err := l.start(ctx, l.argv(command, workDir)); err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Couldn't open a terminal with %s", l.name),
			"Use auto-close to run the command in the background instead.")
	}
	return nil
}

// DefaultLauncher picks the terminal mechanism for the current platform.
func DefaultLauncher() (Launcher, error) {
	return launcherFor(runtime.GOOS, exec.LookPath, startDetached)
}

func launcherFor(goos string, lookPath func(string) (string, error), start starter) (Launcher, error) {
	switch goos {
	case "darwin":
		return terminalLauncher{name: "Terminal.app", argv: macArgv, start: start}, nil
	case "windows":
		return terminalLauncher{name: "cmd", argv: windowsArgv, start: start}, nil
	}
	for _, t := range linuxTerminals {
		if _, err := lookPath(t.bin); err != nil {
			continue
		}
		t := t
		return terminalLauncher{
			name: t.bin,
			argv: func(command, workDir string) []string {
				argv := append([]string{t.bin}, t.flag...)
				return append(argv, "sh", "-c", shellLine(command, workDir)+"; exec \"${SHELL:-sh}\"")
			},
			start: start,
		}, nil
	}
	return nil, errors.New(errors.ErrConfig,
		"No terminal emulator found",
		"Install one of x-terminal-emulator, gnome-terminal, konsole, or xterm, or use auto-close.")
}

func shellLine(command, workDir string) string {
	if workDir == "" {
		return command
	}
	return "cd " + util.ShellQuote(workDir) + " && " + command
}

func macArgv(command, workDir string) []string {
	line := shellLine(command, workDir)
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(line)
	return []string{"osascript", "-e", fmt.Sprintf(`tell application "Terminal" to do script "%s"`, escaped)}
}

func windowsArgv(command, workDir string) []string {
	full := command
	if workDir != "" {
		full = fmt.Sprintf(`cd /d "%s" && %s`, workDir, command)
	}
	return []string{"cmd", "/c", "start", "cmd", "/k", full}
}
