package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/internal/logger"
	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/harun/aiguide/pkg/coretools"
	"github.com/harun/aiguide/pkg/gateway"
	"github.com/harun/aiguide/pkg/knowledge"
	"github.com/harun/aiguide/pkg/moderation"
	"github.com/harun/aiguide/pkg/session"
	"github.com/harun/aiguide/pkg/toolexecutor"
)

const seedWatchDebounce = 500 * time.Millisecond

// Daemon wires the guide service: knowledge store, tools, model,
// orchestrator, session registry and HTTP gateway.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	store         *knowledge.Store
	toolExecutor  *toolexecutor.ToolExecutor
	model         *agent.ModelGateway
	contentFilter *moderation.ContentFilter
	orchestrator  *agent.Orchestrator
	registry      *session.Registry
	server        *gateway.Server

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a running daemon
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Sessions  int
	Addr      string
}

// New creates a daemon. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		logger:  log,
		version: version,
	}

	zl := log.Zerolog()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.ProviderConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		}); err != nil {
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
		}
	}

	if key := strings.TrimSpace(cfg.Model.APIKey); key != "" && log.Redactor() != nil {
		if err := log.Redactor().AddPattern(regexp.QuoteMeta(key)); err != nil {
			zl.Warn().Err(err).Msg("Failed to register API key for redaction")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// initializeCoreModules builds everything below the session layer
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if dir := filepath.Dir(cfg.Knowledge.DBPath); cfg.Knowledge.DBPath != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create knowledge directory: %w", err)
		}
	}

	store, err := knowledge.Open(knowledge.FromConfig(cfg.Knowledge, d.logger.Component("knowledge")))
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	d.store = store

	ctx := context.Background()
	if cfg.Knowledge.SeedFile != "" {
		if err := store.LoadFile(ctx, cfg.Knowledge.SeedFile); err != nil {
			return fmt.Errorf("failed to load knowledge seed: %w", err)
		}
		if cfg.Knowledge.Watch {
			if err := store.Watch(cfg.Knowledge.SeedFile, seedWatchDebounce); err != nil {
				d.logger.Warn().Err(err).Msg("Knowledge hot reload disabled")
			}
		}
	} else if err := store.LoadDefault(ctx); err != nil {
		return fmt.Errorf("failed to load default knowledge: %w", err)
	}

	// A missing credential is reported per query, not at startup
	provider, providerErr := agent.NewProvider(cfg.Model)
	if providerErr != nil {
		d.logger.Warn().Err(providerErr).Str("provider", cfg.Model.Provider).Msg("Model provider unavailable")
	}

	d.model = agent.NewModelGateway(agent.GatewayConfig{
		Provider:       provider,
		ProviderError:  providerErr,
		Model:          cfg.Model.Name,
		Temperature:    cfg.Model.Temperature,
		MaxTokens:      cfg.Model.MaxTokens,
		Retry:          agent.RetryPolicyFromConfig(cfg.Model.Retry),
		AttemptTimeout: cfg.Model.AttemptTimeout,
		Logger:         d.logger.Component("model"),
	})

	d.toolExecutor = toolexecutor.New(toolexecutor.Config{
		Timeout: cfg.Agent.ToolTimeout,
		Logger:  d.logger.Component("tools"),
	})
	if err := coretools.RegisterCoreTools(d.toolExecutor, coretools.Options{
		Knowledge:    store,
		Describer:    d.model,
		DefaultLimit: cfg.Knowledge.DefaultLimit,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	d.model.BindTools(d.toolExecutor.Specs())

	filter, err := moderation.New(cfg.Moderation)
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}
	d.contentFilter = filter

	orchCfg := agent.OrchestratorConfig{
		Model:         d.model,
		Tools:         d.toolExecutor,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        d.logger.Component("agent"),
	}
	if filter.Enabled() {
		orchCfg.Moderator = filter
	}
	d.orchestrator, err = agent.NewOrchestrator(orchCfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return nil
}

// initializeServices builds the session registry and the HTTP gateway
func (d *Daemon) initializeServices() error {
	cfg := d.config

	regCfg := session.RegistryConfigFromConfig(cfg.Session, cfg.Agent)
	regCfg.Runner = d.orchestrator
	regCfg.Logger = d.logger.Component("session")
	if cfg.Session.ArchiveEnabled {
		archiver, err := session.NewArchiver(cfg.Session.ArchiveDir, d.logger.Component("archive"))
		if err != nil {
			return fmt.Errorf("failed to create transcript archiver: %w", err)
		}
		regCfg.Archiver = archiver
	}

	registry, err := session.NewRegistry(regCfg)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	d.registry = registry

	gwCfg := gateway.ConfigFromServerConfig(cfg.Server)
	gwCfg.Version = d.version
	gwCfg.Sessions = registry
	gwCfg.Store = d.store
	gwCfg.Logger = d.logger.Component("gateway")
	d.server, err = gateway.New(gwCfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	return nil
}

// Start starts the idle sweep and the HTTP gateway
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		return fmt.Errorf("daemon is closed")
	}

	logger := tracing.LoggerFromContext(tracing.NewRequestContext(context.Background()), d.logger.Zerolog())
	logger.Info().Str("version", d.version).Msg("Starting aiguide")

	if err := d.registry.Start(); err != nil {
		return fmt.Errorf("failed to start session registry: %w", err)
	}

	if err := d.server.Start(); err != nil {
		d.registry.CleanupAll()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	d.running = true
	d.startTime = time.Now()

	logger.Info().
		Str("addr", d.server.Addr()).
		Int("tools", d.toolExecutor.GetToolCount()).
		Msg("aiguide started")
	return nil
}

// Stop shuts the gateway down, cleans up every session and releases resources
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := tracing.LoggerFromContext(tracing.NewRequestContext(context.Background()), d.logger.Zerolog())
	logger.Info().Msg("Stopping aiguide")

	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, err)
		logger.Error().Err(err).Msg("Failed to stop gateway")
	}

	d.release()

	logger.Info().Msg("aiguide stopped")
	return errors.Join(errs...)
}

// Close releases resources of a daemon that was never started
func (d *Daemon) Close() error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if running {
		return d.Stop()
	}
	d.release()
	return nil
}

func (d *Daemon) release() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	if d.registry != nil {
		d.registry.CleanupAll()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close knowledge store")
		}
	}
	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to shutdown tracing")
		}
		d.tracingEnabled = false
	}
}

// Ask answers one query in a fresh session
func (d *Daemon) Ask(ctx context.Context, text string, image *agent.Attachment) (string, error) {
	result, err := d.registry.ProcessQuery(tracing.NewRequestContext(ctx), "", text, image)
	if err != nil {
		return "", err
	}
	d.registry.CleanupSession(result.SessionID)
	return result.Reply, nil
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.registry.Count(),
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.Addr = d.server.Addr()
	}
	return status
}

// Wait blocks until SIGINT/SIGTERM or a gateway failure, then stops the daemon
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case err, ok := <-d.server.Errors():
		if ok {
			serveErr = err
		}
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRegistry returns the session registry
func (d *Daemon) GetRegistry() *session.Registry {
	return d.registry
}

// GetKnowledgeStore returns the knowledge store
func (d *Daemon) GetKnowledgeStore() *knowledge.Store {
	return d.store
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.toolExecutor
}

// GetGatewayServer returns the HTTP gateway
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.server
}
