// Command augur-serve runs the NDJSON scan server on stdin/stdout.
//
// It takes no flags. Settings come from the YAML file named by
// AUGUR_CONFIG (or $XDG_CONFIG_HOME/augur/config.yaml) and AUGUR_*
// environment variables; logs go to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/praetorian-inc/augur/pkg/config"
	"github.com/praetorian-inc/augur/pkg/logging"
	"github.com/praetorian-inc/augur/pkg/reload"
	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/praetorian-inc/augur/pkg/serve"
	"github.com/praetorian-inc/augur/pkg/store"
)

const service = "augur-serve"

func main() {
	logger := logging.Init(service)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// run serves requests from in until it closes, a close request arrives or
// ctx is canceled.
func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	rs, err := cfg.LoadRules()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	s, err := store.New(store.Config{Path: cfg.Store})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	opts := append(cfg.ScannerOptions(), scanner.WithLogger(logger))
	core, err := scanner.NewCoreFromRuleset(rs, s, opts...)
	if err != nil {
		s.Close()
		return fmt.Errorf("compiling rules: %w", err)
	}
	defer core.Close()

	if cfg.Reload.Watch && len(cfg.Rules) > 0 {
		r := reload.New(
			reload.PathLoader(rule.FilterConfig{Include: cfg.Include, Exclude: cfg.Exclude}, cfg.Rules...),
			reload.WithCurrent(core.Rules()),
			reload.WithSwap(core.SwapRules),
			reload.WithScannerOptions(opts...),
			reload.WithDebounce(cfg.Reload.Debounce),
			reload.WithLogger(logger),
		)
		defer r.Close()

		watchCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			stop()
			<-done
		}()
		go func() {
			defer close(done)
			if err := r.Watch(watchCtx, cfg.Rules...); err != nil {
				logger.Error("rule watcher stopped", "error", err)
			}
		}()
	} else if cfg.Reload.Watch {
		logger.Warn("reload.watch ignored: builtin rules cannot change")
	}

	logger.Info("serving",
		"ruleset", rs.Name,
		"rules", len(rs.Rules),
		"store", cfg.Store,
		"fingerprint", core.Rules().Fingerprint())

	return serve.NewServer(core, in, out).WithLogger(logger).Run(ctx)
}
