// cmd/lexuninstall/main.go

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/windowsadmins/lexsetup/pkg/config"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/registrar"
	"github.com/windowsadmins/lexsetup/pkg/ui"
	"github.com/windowsadmins/lexsetup/pkg/uninstaller"
	"github.com/windowsadmins/lexsetup/pkg/utils"
	"github.com/windowsadmins/lexsetup/pkg/version"
)

var logger *logging.Logger

func main() {
	os.Exit(run())
}

func run() int {
	utils.PatchWindowsArgs()

	configPath := pflag.String("config", "", "Path to the setup configuration file.")
	target := pflag.String("target", "", "Remove the installation in this folder.")
	yes := pflag.BoolP("yes", "y", false, "Do not ask for confirmation.")
	keepLogs := pflag.Bool("keep-logs", false, "Leave the logs folder in place.")
	noTUI := pflag.Bool("no-tui", false, "Print plain progress lines instead of the interactive view.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv)")
	pflag.Parse()

	logger = logging.New(verbosity > 0)

	if *versionFlag {
		version.Print()
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}

	reg, err := registrar.NewDefault(cfg.AppID, cfg.AppName, cfg.Publisher)
	if err != nil {
		logger.Warning("Registration backend unavailable: %v", err)
	}

	self, _ := os.Executable()
	explicit := ""
	if *target != "" {
		if explicit, err = filepath.Abs(*target); err != nil {
			logger.Error("Invalid target %s: %v", *target, err)
			return 1
		}
	}
	root := uninstaller.ResolveTarget(explicit, reg, self, cfg)
	if used, err := logging.InitForRun(logDir(cfg), cfg.LogLevel, verbosity, "uninstall.log", "uninstaller"); err != nil {
		logger.Warning("Logging to %s: %v", used, err)
	}
	defer logging.CloseLogger()
	logging.Info("Uninstaller started", "version", version.Version().Version, "target", root)

	if !*yes {
		if !ui.IsInteractive() {
			logger.Error("Refusing to uninstall without --yes when not attached to a terminal")
			return 1
		}
		if !confirm(fmt.Sprintf("Remove %s from %s?", cfg.AppName, root)) {
			logger.Info("Uninstall cancelled")
			return 0
		}
	}

	var shortcuts registrar.Shortcuts
	if sc, err := registrar.NewShortcuts(); err != nil {
		logging.Warn("Shortcut locations unavailable", "error", err)
	} else {
		shortcuts = sc
	}

	reporter := progress.NewReporter(progress.NewQueue())
	u := uninstaller.New(cfg, root, reg, shortcuts, reporter)
	u.KeepLogs = *keepLogs || cfg.PreserveLogs

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := make(chan uninstaller.Outcome, 1)
	go func() {
		outcome <- u.Run(ctx)
	}()

	interval := time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	var done progress.DoneEvent
	if !*noTUI && ui.IsInteractive() {
		done, err = ui.RunTUI(ctx, "Uninstall "+cfg.AppName, reporter.Queue(), u.Ledger(), interval, nil)
		if err != nil {
			logging.Warn("Interactive progress view stopped", "error", err)
			done = ui.RunPlain(ctx, os.Stdout, reporter.Queue(), interval, nil)
		}
	} else {
		done = ui.RunPlain(ctx, os.Stdout, reporter.Queue(), interval, nil)
	}
	out := <-outcome

	ui.PrintSummary(os.Stdout, done)
	if !out.Success {
		return 1
	}
	return 0
}

// logDir keeps the uninstall log out of the installation, so a refused run
// leaves the target untouched.
func logDir(cfg *config.Configuration) string {
	if cfg.LogDir != "" {
		return cfg.LogDir
	}
	return logging.FallbackDir()
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
