package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mquintal/kitchenctl/internal/bag"
	"github.com/mquintal/kitchenctl/internal/catalog"
	"github.com/mquintal/kitchenctl/internal/config"
	"github.com/mquintal/kitchenctl/internal/converge"
	"github.com/mquintal/kitchenctl/internal/logging"
	"github.com/mquintal/kitchenctl/internal/observability"
	"github.com/mquintal/kitchenctl/internal/remote"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "kitchen config file")
	initConfig := flag.Bool("init-config", false, "write a starter config file and exit")
	kitchen := flag.String("kitchen", ".", "kitchen root directory")
	compileOnly := flag.Bool("compile-only", false, "build node data bags, skip convergence")
	force := flag.Bool("force", false, "overwrite durable node records")
	whyRun := flag.Bool("why-run", false, "agent dry-run mode")
	parallel := flag.Bool("parallel", false, "converge hosts concurrently")
	logLevel := flag.String("loglevel", "", "agent log level: debug|info|warn|error")
	statusAddr := flag.String("status-addr", "", "serve /health, /metrics and /run on this address")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := observability.InitLogger("kitchenctl", zerolog.GlobalLevel())

	if *initConfig {
		if err := config.WriteTemplate(*configPath, *force); err != nil {
			logger.Error().Err(err).Msg("init config")
			return exitUsage
		}
		logger.Info().Str("path", *configPath).Msg("wrote starter config")
		return exitOK
	}

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("config")
		return exitUsage
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *whyRun {
		cfg.WhyRun = true
	}
	if *parallel {
		cfg.Parallel = true
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("config")
		return exitUsage
	}

	cat, err := catalog.Load(*kitchen)
	if err != nil {
		logger.Error().Err(err).Msg("load kitchen")
		return exitUsage
	}
	if err := cat.EnsureEnvironmentFiles(true); err != nil {
		logger.Error().Err(err).Msg("ensure environments")
		return exitUsage
	}

	// Compilation is the barrier: every workflow reads the compiled
	// output area, so it must be fully populated before any host starts.
	started := time.Now()
	compiled, err := bag.Compile(cat)
	if err != nil {
		logger.Error().Err(err).Msg("compile node data bags")
		return exitUsage
	}
	observability.RecordCompile(len(compiled), time.Since(started))
	logger.Info().Int("nodes", len(compiled)).Msg("compiled node data bags")
	if *compileOnly {
		return exitOK
	}

	targets, err := selectTargets(compiled, flag.Args())
	if err != nil {
		logger.Error().Err(err).Msg("select hosts")
		return exitUsage
	}

	tracker := newRunTracker(targets)
	if cfg.StatusAddr != "" {
		server := observability.NewStatusServer(cfg.StatusAddr, tracker.snapshot)
		server.Start(logger, cfg.CorsOrigins)
	}

	results := convergeAll(cfg, *kitchen, *force, targets, tracker, logger)
	return summarize(results, logger)
}

func selectTargets(compiled []*bag.CompiledNode, hosts []string) ([]*bag.CompiledNode, error) {
	if len(hosts) == 0 {
		return compiled, nil
	}
	byName := make(map[string]*bag.CompiledNode, len(compiled))
	for _, node := range compiled {
		byName[node.FQDN()] = node
	}
	targets := make([]*bag.CompiledNode, 0, len(hosts))
	for _, host := range hosts {
		node, ok := byName[host]
		if !ok {
			return nil, fmt.Errorf("no node file for host %q", host)
		}
		targets = append(targets, node)
	}
	return targets, nil
}

func newWorkflow(cfg config.Config, kitchen string, force bool, node *bag.CompiledNode, logger zerolog.Logger) *converge.Workflow {
	return &converge.Workflow{
		Transport: &remote.SSHTransport{
			Host:                        node.FQDN(),
			Port:                        cfg.SSHPort,
			User:                        cfg.SSHUser,
			KeyPath:                     cfg.SSHKeyPath,
			KnownHostsPath:              cfg.KnownHostsPath,
			SSHConfigPath:               cfg.SSHConfigPath,
			InsecureSkipHostKeyChecking: cfg.InsecureSkipHostKeyChecking,
			Timeout:                     cfg.ConnectTimeout,
		},
		Node:           node,
		Kitchen:        kitchen,
		WorkPath:       cfg.NodeWorkPath,
		LogLevel:       cfg.LogLevel,
		WhyRun:         cfg.WhyRun,
		EnableLogs:     cfg.EnableLogs,
		SecretPath:     cfg.EncryptedDataBagSecret,
		FollowSymlinks: cfg.FollowSymlinks,
		ForceSave:      force,
		Log:            observability.HostLogger(logger, node.FQDN()),
	}
}

// convergeAll runs one workflow per target host. In parallel mode an
// AgentMissing result cancels the shared context so hosts that have not
// begun syncing never touch their remotes; in sequential mode the run
// stops on the spot.
func convergeAll(cfg config.Config, kitchen string, force bool, targets []*bag.CompiledNode, tracker *runTracker, logger zerolog.Logger) []converge.Result {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.Parallel {
		results := make([]converge.Result, 0, len(targets))
		for _, node := range targets {
			tracker.set(node.FQDN(), "running")
			result := newWorkflow(cfg, kitchen, force, node, logger).Run(ctx)
			tracker.set(result.Host, result.Outcome.String())
			results = append(results, result)
			if result.Outcome == converge.OutcomeAgentMissing {
				break
			}
		}
		return results
	}

	results := make([]converge.Result, len(targets))
	var wg sync.WaitGroup
	for i, node := range targets {
		wg.Add(1)
		go func(i int, node *bag.CompiledNode) {
			defer wg.Done()
			tracker.set(node.FQDN(), "running")
			result := newWorkflow(cfg, kitchen, force, node, logger).Run(ctx)
			tracker.set(result.Host, result.Outcome.String())
			results[i] = result
			if result.Outcome == converge.OutcomeAgentMissing {
				cancel()
			}
		}(i, node)
	}
	wg.Wait()
	return results
}

func summarize(results []converge.Result, logger zerolog.Logger) int {
	exit := exitOK
	for _, result := range results {
		switch result.Outcome {
		case converge.OutcomeAgentMissing:
			logger.Error().Str("host", result.Host).Err(result.Err).Msg("run aborted: agent missing")
			return exitRun
		case converge.OutcomeAgentFailed:
			if result.Err != nil && !errors.Is(result.Err, converge.ErrAgentFailed) {
				logger.Error().Str("host", result.Host).Err(result.Err).Msg("converge failed")
			}
			exit = exitRun
		}
	}
	return exit
}

// runTracker feeds the /run status endpoint.
type runTracker struct {
	mu     sync.Mutex
	states map[string]string
}

func newRunTracker(targets []*bag.CompiledNode) *runTracker {
	states := make(map[string]string, len(targets))
	for _, node := range targets {
		states[node.FQDN()] = "pending"
	}
	return &runTracker{states: states}
}

func (t *runTracker) set(host, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[host] = state
}

func (t *runTracker) snapshot() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.states))
	for host, state := range t.states {
		out[host] = state
	}
	return out
}
