// cmd/lexsetup/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/windowsadmins/lexsetup/pkg/config"
	"github.com/windowsadmins/lexsetup/pkg/installer"
	"github.com/windowsadmins/lexsetup/pkg/logging"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/registrar"
	"github.com/windowsadmins/lexsetup/pkg/ui"
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
	target := pflag.String("target", "", "Install into this folder instead of the configured one.")
	noTUI := pflag.Bool("no-tui", false, "Print plain progress lines instead of the interactive view.")
	writeConfig := pflag.String("write-config", "", "Write the effective configuration to this file and exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	// Count the number of -v flags.
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv)")
	pflag.Parse()

	logger = logging.New(verbosity > 0)

	if *versionFlag {
		if verbosity > 0 {
			version.PrintFull()
		} else {
			version.Print()
		}
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}
	if *target != "" {
		abs, err := filepath.Abs(*target)
		if err != nil {
			logger.Error("Invalid target %s: %v", *target, err)
			return 1
		}
		cfg.InstallPath = abs
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(cfg, *writeConfig); err != nil {
			logger.Error("Failed to write configuration: %v", err)
			return 1
		}
		logger.Success("Configuration written to %s", *writeConfig)
		return 0
	}

	logDir, err := logging.InitForRun(cfg.ResolvedLogDir(), cfg.LogLevel, verbosity, "setup.log", "installer")
	if err != nil {
		logger.Warning("Logging to %s: %v", logDir, err)
	}
	defer logging.CloseLogger()

	reg, err := registrar.NewDefault(cfg.AppID, cfg.AppName, cfg.Publisher)
	if err != nil {
		logging.Warn("Registration backend unavailable", "error", err)
	}
	var shortcuts registrar.Shortcuts
	if cfg.DesktopShortcut || cfg.StartMenuShortcut {
		if sc, err := registrar.NewShortcuts(); err != nil {
			logging.Warn("Shortcut locations unavailable", "error", err)
		} else {
			shortcuts = sc
		}
	}

	reporter := progress.NewReporter(progress.NewQueue())
	inst := installer.New(cfg, cfg.InstallPath, reg, shortcuts, reporter)

	// Signals cancel the install; the pipeline still reports its final state.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := make(chan installer.Outcome, 1)
	go func() {
		outcome <- inst.Run(context.Background())
	}()

	interval := time.Duration(cfg.PollIntervalMillis) * time.Millisecond
	title := fmt.Sprintf("%s %s setup", cfg.AppName, displayVersion(cfg))
	done := showProgress(ctx, title, reporter, inst.Ledger(), interval, inst.Cancel, *noTUI)
	out := <-outcome

	ui.PrintSummary(os.Stdout, done)
	if !out.Success {
		if path := logging.CurrentLogFile(); path != "" {
			logger.Info("Full log: %s", path)
		}
		return 1
	}
	logging.Info("Runtime ready", "executable", out.RuntimeExecutable)
	return 0
}

// showProgress renders until the pipeline's DoneEvent. The interactive view
// falls back to plain output if the terminal cannot be driven.
func showProgress(ctx context.Context, title string, reporter *progress.Reporter, ledger *progress.Ledger, interval time.Duration, cancel func(), plain bool) progress.DoneEvent {
	if !plain && ui.IsInteractive() {
		done, err := ui.RunTUI(ctx, title, reporter.Queue(), ledger, interval, cancel)
		if err == nil {
			return done
		}
		logging.Warn("Interactive progress view stopped", "error", err)
	}
	return ui.RunPlain(ctx, os.Stdout, reporter.Queue(), interval, cancel)
}

func displayVersion(cfg *config.Configuration) string {
	if cfg.Version != "" {
		return cfg.Version
	}
	return version.Version().Version
}
