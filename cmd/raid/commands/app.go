package commands

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/audit"
	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/provider"
	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/config"
	"github.com/moolen/raid/internal/history"
	"github.com/moolen/raid/internal/knownissues"
	"github.com/moolen/raid/internal/lifecycle"
	"github.com/moolen/raid/internal/logging"
	"github.com/moolen/raid/internal/metrics"
	"github.com/moolen/raid/internal/sysinfo"
	"github.com/moolen/raid/internal/tracing"
	"github.com/moolen/raid/internal/ui"
)

//go:embed scenarios/demo.yaml
var demoScenario []byte

// cacheSize bounds the tool result cache.
const cacheSize = 256

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *logging.Logger

	printer  *ui.Printer
	in       io.Reader
	registry *tools.Registry
	runner   tools.Runner
	table    *dispatch.Table
	kube     *tools.KubeBackend
	issues   *knownissues.Database
	scenario *provider.Scenario

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	tracing      *tracing.Provider
	manager      *lifecycle.Manager

	store   *history.Store
	closers []func() error

	// quiet suppresses progress output, e.g. when stdout carries MCP traffic.
	quiet bool
}

// newApp loads the configuration, sets up logging and builds the tool
// stack. Expensive or optional pieces (provider, history) are created on
// demand.
func newApp(cmd *cobra.Command) (*app, error) {
	a, err := newBaseApp(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.buildTools(); err != nil {
		return nil, err
	}
	if err := a.buildIssues(); err != nil {
		return nil, err
	}
	if err := a.buildTelemetry(); err != nil {
		return nil, err
	}
	return a, nil
}

// newBaseApp loads the configuration and sets up logging and output only.
func newBaseApp(cmd *cobra.Command) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := setupLog(cfg, logLevelFlags); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	a := &app{
		cfg:     cfg,
		cfgPath: path,
		logger:  logging.GetLogger("cli"),
		in:      cmd.InOrStdin(),
		manager: lifecycle.NewManager(),
	}
	if path != "" {
		a.logger.Debug("Loaded configuration from %s", path)
	}

	a.printer = ui.NewPrinter(ui.Options{
		Out:      cmd.OutOrStdout(),
		Err:      cmd.ErrOrStderr(),
		Format:   cfg.Output.Format,
		Color:    cfg.Output.Color,
		Verbose:  cfg.Output.Verbose,
		Progress: cfg.Output.Progress,
	})
	return a, nil
}

func (a *app) dryRun() bool {
	return a.cfg.AI.Provider == provider.NameScripted
}

// loadScenario returns the scenario replayed by the scripted provider.
// Without ai.scenario the embedded demo is used.
func (a *app) loadScenario() (*provider.Scenario, error) {
	if a.scenario != nil {
		return a.scenario, nil
	}
	var (
		s   *provider.Scenario
		err error
	)
	if a.cfg.AI.Scenario != "" {
		s, err = provider.LoadScenario(a.cfg.AI.Scenario)
	} else {
		s, err = provider.ParseScenario(demoScenario)
	}
	if err != nil {
		return nil, err
	}
	a.scenario = s
	return s, nil
}

// buildTools assembles the backend registry, the result cache and the
// dispatch table.
func (a *app) buildTools() error {
	tc := a.cfg.Tools

	if a.dryRun() {
		backend, err := a.scenarioBackend()
		if err != nil {
			return err
		}
		a.registry = tools.NewRegistry(tc.MaxOutputBytes, backend)
	} else {
		exec := tools.NewCommandExecutor(tc.Timeout)
		a.registry = tools.NewRegistry(tc.MaxOutputBytes, exec)
		if err := a.selectKubeBackend(exec); err != nil {
			return err
		}
		if err := a.selectDockerBackend(exec); err != nil {
			return err
		}
	}

	a.runner = tools.NewCachingRunner(a.registry, cacheSize, tc.CacheTTL)
	a.table = dispatch.New(a.runner)
	return nil
}

func (a *app) scenarioBackend() (*tools.StaticBackend, error) {
	s, err := a.loadScenario()
	if err != nil {
		return nil, err
	}
	if len(s.ToolResponses) == 0 {
		return tools.NewDemoBackend(), nil
	}
	responses := make(map[tools.ID]tools.Result, len(s.ToolResponses))
	for name, r := range s.ToolResponses {
		id, ok := tools.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("scenario %q: unknown tool %q in tool_responses", s.Name, name)
		}
		responses[id] = tools.Result{Success: r.Success, Output: r.Output, Error: r.Error}
	}
	return tools.NewStaticBackend(responses, s.ToolDelay()), nil
}

// selectKubeBackend routes kubectl tools to the API client when configured,
// or when kubectl is missing and a client can be built.
func (a *app) selectKubeBackend(exec *tools.CommandExecutor) error {
	mode := a.cfg.Tools.KubernetesBackend
	if mode == config.BackendKubectl {
		return nil
	}
	if mode == config.BackendAuto && exec.Available(tools.KubectlGetPods) {
		return nil
	}

	client, err := tools.NewKubeClient(a.cfg.Tools.Kubeconfig)
	if err != nil {
		if mode == config.BackendNative {
			return fmt.Errorf("kubernetes backend: %w", err)
		}
		a.logger.Debug("kubectl not found and no cluster configured: %v", err)
		return nil
	}
	a.kube = tools.NewKubeBackend(client)
	a.registry.Prepend(a.kube)
	return nil
}

// selectDockerBackend routes docker tools to the engine API when
// configured, or when the docker CLI is missing.
func (a *app) selectDockerBackend(exec *tools.CommandExecutor) error {
	mode := a.cfg.Tools.DockerBackend
	if mode == config.BackendCLI {
		return nil
	}
	if mode == config.BackendAuto && exec.Available(tools.DockerPs) {
		return nil
	}

	client, err := tools.NewDockerClient()
	if err != nil {
		if mode == config.BackendAPI {
			return err
		}
		a.logger.Debug("docker CLI not found and engine client unavailable: %v", err)
		return nil
	}
	a.closers = append(a.closers, client.Close)
	a.registry.Prepend(tools.NewDockerBackend(client))
	return nil
}

// kubeVersion queries the cluster version through the API backend.
func (a *app) kubeVersion(context.Context) (string, error) {
	if a.kube == nil {
		return "", errors.New("no kubernetes client")
	}
	return a.kube.ServerVersion()
}

func (a *app) buildIssues() error {
	db, err := knownissues.New()
	if err != nil {
		return fmt.Errorf("failed to load known issues: %w", err)
	}
	if file := a.cfg.KnownIssue.File; file != "" {
		n, err := db.LoadFile(file)
		if err != nil {
			return fmt.Errorf("failed to load known issues from %s: %w", file, err)
		}
		a.logger.Debug("Loaded %d known issues from %s", n, file)
	}
	if a.kube != nil {
		if v, err := a.kube.ServerVersion(); err == nil {
			if err := db.SetClusterVersion(v); err != nil {
				a.logger.Warn("Ignoring cluster version %q: %v", v, err)
			}
		}
	}
	a.issues = db
	return nil
}

// buildTelemetry creates the metrics and tracing components and registers
// them with the lifecycle manager.
func (a *app) buildTelemetry() error {
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.promRegistry)

	tp, err := tracing.New(tracing.Config{
		Enabled:     a.cfg.Tracing.Enabled,
		Endpoint:    a.cfg.Tracing.Endpoint,
		TLSCAPath:   a.cfg.Tracing.TLSCAPath,
		TLSInsecure: a.cfg.Tracing.TLSInsecure,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracing = tp
	if err := a.manager.Register(tp); err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		if err := a.manager.Register(metrics.NewServer(a.cfg.Metrics.Addr, a.promRegistry)); err != nil {
			return err
		}
	}
	return nil
}

// start starts the registered lifecycle components.
func (a *app) start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// openStore opens the history database once.
func (a *app) openStore(ctx context.Context) (*history.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := history.Open(a.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.store = store

	if a.cfg.Database.AutoCleanup && a.cfg.Database.RetentionDays > 0 {
		retention := time.Duration(a.cfg.Database.RetentionDays) * 24 * time.Hour
		if n, err := store.Cleanup(ctx, retention); err != nil {
			a.logger.Warn("History cleanup failed: %v", err)
		} else if n > 0 {
			a.logger.Debug("Removed %d expired history records", n)
		}
	}
	return store, nil
}

// newProvider builds the configured inference backend.
func (a *app) newProvider() (provider.Provider, error) {
	if a.dryRun() {
		s, err := a.loadScenario()
		if err != nil {
			return nil, err
		}
		return provider.NewScenarioProvider(s), nil
	}
	return provider.New(a.cfg.ProviderConfig())
}

// sessionOptions configures a new or restored session.
type sessionOptions struct {
	id       string
	budget   int
	auditLog string
	// noAudit skips the audit log even when one is configured.
	noAudit bool
}

func (a *app) sessionConfig(budget int) session.Config {
	if budget <= 0 {
		budget = a.cfg.Agent.MaxToolCalls
	}
	return session.Config{Budget: budget, ContinueIncrement: a.cfg.Agent.ContinueIncrement}
}

// observers returns the session options shared by new and restored
// sessions.
func (a *app) observers(p provider.Provider, o sessionOptions) ([]session.Option, error) {
	opts := []session.Option{
		session.WithID(o.id),
		session.WithEnricher(a.issues),
		session.WithTracer(a.tracing.Tracer("raid/session")),
		session.WithObserver(session.NewMetricsObserver(a.metrics)),
	}
	if !a.quiet {
		opts = append(opts, session.WithObserver(a.printer))
	}

	auditLog := o.auditLog
	if auditLog == "" {
		auditLog = a.cfg.Agent.AuditLog
	}
	if auditLog != "" && !o.noAudit {
		log, err := audit.NewLogger(auditLog, o.id)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.closers = append(a.closers, log.Close)
		opts = append(opts, session.WithObserver(session.NewAuditObserver(log, p.Name(), p.Model())))
	}
	return opts, nil
}

// newSession creates an idle session.
func (a *app) newSession(p provider.Provider, o sessionOptions) (*session.Session, error) {
	if o.id == "" {
		o.id = uuid.NewString()
	}
	opts, err := a.observers(p, o)
	if err != nil {
		return nil, err
	}
	return session.New(p, a.table, a.sessionConfig(o.budget), opts...), nil
}

// restoreSession rebuilds a saved session. The snapshot keeps its own
// budget and increment; the configured defaults only apply to snapshots
// that did not record an increment.
func (a *app) restoreSession(p provider.Provider, snap session.Snapshot, auditLog string) (*session.Session, error) {
	opts, err := a.observers(p, sessionOptions{id: snap.ID, auditLog: auditLog})
	if err != nil {
		return nil, err
	}
	return session.Restore(snap, p, a.table, a.sessionConfig(0), opts...)
}

// hostInfo collects facts about the local host.
func (a *app) hostInfo(ctx context.Context) sysinfo.Info {
	var opts []sysinfo.Option
	if a.kube != nil {
		opts = append(opts, sysinfo.WithKubernetesVersion(a.kubeVersion))
	}
	return sysinfo.Collect(ctx, opts...)
}

// systemContext renders info and, when baseline is set, the output of the
// baseline diagnostics.
func (a *app) systemContext(ctx context.Context, info sysinfo.Info, baseline bool) string {
	text := info.Context()
	if !baseline {
		return text
	}

	a.printer.Mutedf("Running baseline diagnostics...")
	summary, err := sysinfo.Baseline(ctx, a.runner, sysinfo.DefaultBaseline)
	if err != nil {
		a.logger.Warn("Baseline diagnostics failed: %v", err)
		return text
	}
	return text + "\n\n" + summary
}

// saveSnapshot persists the session. Failures are logged, not returned, so
// a broken database never loses the result on screen.
func (a *app) saveSnapshot(ctx context.Context, s *session.Session) {
	store, err := a.openStore(ctx)
	if err != nil {
		a.logger.Warn("Session not saved: %v", err)
		return
	}
	if err := store.SaveSession(ctx, s.Snapshot()); err != nil {
		a.logger.Warn("Session not saved: %v", err)
	}
}

// Close releases everything the app opened.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), lifecycle.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := logging.CloseOutput(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
