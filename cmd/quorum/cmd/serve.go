package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/container"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/experience"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/planservice"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/scheduler"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/supervisor"
)

var (
	serveHost            string
	servePort            int
	serveNoCORS          bool
	serveWorkers         int
	serveImage           string
	serveAgentPath       string
	serveAgentModel      string
	serveCallbackBaseURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: worker pool, containers, and the control-surface API",
	Long: `Start the Scheduler's worker pool and the Gateway's REST+WebSocket API.

On startup the engine recovers any tasks left active by a previous crash,
then claims and dispatches ready tasks into sandboxed containers until
stopped with SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "gateway listen host")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 7733, "gateway listen port")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "disable CORS headers on the gateway")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 3, "number of concurrent worker slots")
	serveCmd.Flags().StringVar(&serveImage, "image", "quorum-agent:latest", "container image each worker runs")
	serveCmd.Flags().StringVar(&serveAgentPath, "agent-path", "claude", "agent CLI binary to invoke")
	serveCmd.Flags().StringVar(&serveAgentModel, "agent-model", "", "agent model override (empty: CLI default)")
	serveCmd.Flags().StringVar(&serveCallbackBaseURL, "callback-base-url", "",
		"base URL agent containers use to report status back (default: derived from --host/--port)")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: os.Stdout})

	registry, err := store.NewProjectRegistry(dataDir)
	if err != nil {
		return fmt.Errorf("opening project registry: %w", err)
	}

	bus := eventbus.New(256, 64)
	defer bus.Close()

	runtime := container.NewDockerRuntime(container.DefaultHardeningOptions())

	agentRegistry := cli.NewRegistry()
	agentRegistry.Configure("claude", cli.AgentConfig{
		Name:    "claude",
		Path:    serveAgentPath,
		Model:   serveAgentModel,
		Timeout: 30 * time.Minute,
	})
	agent, err := agentRegistry.Get("claude")
	if err != nil {
		return fmt.Errorf("configuring agent: %w", err)
	}

	callbackBase := serveCallbackBaseURL
	if callbackBase == "" {
		callbackBase = fmt.Sprintf("http://host.docker.internal:%d/internal/callback", servePort)
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.WorkerCount = serveWorkers
	schedCfg.Image = serveImage
	schedCfg.DataDir = dataDir
	schedCfg.CallbackBaseURL = callbackBase

	expIndexer, err := experience.New(dataDir, registry, logger)
	if err != nil {
		return fmt.Errorf("opening experience indexer: %w", err)
	}
	defer expIndexer.Close()

	// plans is wired in once the Scheduler exists, since the Plan Service
	// needs the Scheduler's cached TaskStore (ProjectTasks) rather than
	// opening its own.
	sched := scheduler.New(schedCfg, registry, runtime, agent, bus, logger, nil, expIndexer)

	planSvc := planservice.New(agent, sched, bus, logger)
	sched.SetPlans(planSvc)

	gwCfg := gateway.DefaultConfig()
	gwCfg.Host = serveHost
	gwCfg.Port = servePort
	gwCfg.EnableCORS = !serveNoCORS
	gwCfg.DataDir = dataDir
	gw := gateway.New(gwCfg, registry, sched, bus, logger)

	sup := supervisor.New(dataDir, registry, runtime, sched, gw, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Recover(ctx); err != nil {
		logger.Warn("serve: startup recovery reported an error", "error", err)
	}

	addr := fmt.Sprintf("http://%s:%d", serveHost, servePort)
	logger.Info("serve: starting", "gateway_addr", addr, "workers", serveWorkers, "image", serveImage)
	fmt.Printf("\n  quorum engine running — gateway at \033[1;36m%s\033[0m\n\n", addr)

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	logger.Info("serve: stopped")
	return nil
}
