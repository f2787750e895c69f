package session

import (
	"time"

	"github.com/moolen/raid/internal/agent/action"
	"github.com/moolen/raid/internal/agent/audit"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/logging"
	"github.com/moolen/raid/internal/metrics"
)

// Observer receives the events of a session as they happen. Observers run
// synchronously on the loop goroutine and must not block.
type Observer interface {
	SessionStarted(id, problem string, budget int)
	LoopEntered(stats Stats)
	UserInput(text string)
	ProviderRequest(provider string, prompt string, used, budget int)
	ProviderResponse(provider string, reply string, elapsed time.Duration, err error)
	ToolStarted(call action.RunTool)
	ToolCompleted(res tools.Result)
	Analysis(text string)
	Finished(res Result, stats Stats)
}

// NopObserver ignores every event. Embed it to implement only part of
// Observer.
type NopObserver struct{}

func (NopObserver) SessionStarted(string, string, int)                    {}
func (NopObserver) LoopEntered(Stats)                                     {}
func (NopObserver) UserInput(string)                                      {}
func (NopObserver) ProviderRequest(string, string, int, int)              {}
func (NopObserver) ProviderResponse(string, string, time.Duration, error) {}
func (NopObserver) ToolStarted(action.RunTool)                            {}
func (NopObserver) ToolCompleted(tools.Result)                            {}
func (NopObserver) Analysis(string)                                       {}
func (NopObserver) Finished(Result, Stats)                                {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) SessionStarted(id, problem string, budget int) {
	for _, x := range o {
		x.SessionStarted(id, problem, budget)
	}
}

func (o Observers) LoopEntered(stats Stats) {
	for _, x := range o {
		x.LoopEntered(stats)
	}
}

func (o Observers) UserInput(text string) {
	for _, x := range o {
		x.UserInput(text)
	}
}

func (o Observers) ProviderRequest(provider, prompt string, used, budget int) {
	for _, x := range o {
		x.ProviderRequest(provider, prompt, used, budget)
	}
}

func (o Observers) ProviderResponse(provider, reply string, elapsed time.Duration, err error) {
	for _, x := range o {
		x.ProviderResponse(provider, reply, elapsed, err)
	}
}

func (o Observers) ToolStarted(call action.RunTool) {
	for _, x := range o {
		x.ToolStarted(call)
	}
}

func (o Observers) ToolCompleted(res tools.Result) {
	for _, x := range o {
		x.ToolCompleted(res)
	}
}

func (o Observers) Analysis(text string) {
	for _, x := range o {
		x.Analysis(text)
	}
}

func (o Observers) Finished(res Result, stats Stats) {
	for _, x := range o {
		x.Finished(res, stats)
	}
}

// AuditObserver writes session events to an audit log. Write failures are
// logged and otherwise ignored.
type AuditObserver struct {
	NopObserver
	log      *audit.Logger
	provider string
	model    string
	logger   *logging.Logger
}

// NewAuditObserver returns an observer writing to log.
func NewAuditObserver(log *audit.Logger, provider, model string) *AuditObserver {
	return &AuditObserver{log: log, provider: provider, model: model, logger: logging.GetLogger("session.audit")}
}

func (a *AuditObserver) check(err error) {
	if err != nil {
		a.logger.Warn("Failed to write audit event: %v", err)
	}
}

func (a *AuditObserver) SessionStarted(_, problem string, budget int) {
	a.check(a.log.LogSessionStart(a.provider, a.model, budget))
	a.check(a.log.LogUserMessage(problem))
}

func (a *AuditObserver) UserInput(text string) {
	a.check(a.log.LogUserMessage(text))
}

func (a *AuditObserver) ProviderRequest(provider, prompt string, used, budget int) {
	a.check(a.log.LogProviderRequest(provider, len(prompt), used, budget))
}

func (a *AuditObserver) ProviderResponse(provider, reply string, elapsed time.Duration, err error) {
	a.check(a.log.LogProviderResponse(provider, reply, elapsed, err))
}

func (a *AuditObserver) ToolStarted(call action.RunTool) {
	args := map[string]interface{}{}
	if call.Args.Namespace != "" {
		args["namespace"] = call.Args.Namespace
	}
	if call.Args.Pod != "" {
		args["pod"] = call.Args.Pod
	}
	if call.Args.Service != "" {
		args["service"] = call.Args.Service
	}
	if call.Args.Lines != nil {
		args["lines"] = *call.Args.Lines
	}
	a.check(a.log.LogToolStart(string(call.Tool), args))
}

func (a *AuditObserver) ToolCompleted(res tools.Result) {
	a.check(a.log.LogToolComplete(res.ToolName, res.Command, res.Success,
		time.Duration(res.ExecutionTimeMs)*time.Millisecond, res.Body()))
}

func (a *AuditObserver) Analysis(text string) {
	a.check(a.log.LogAnalysis(text))
}

func (a *AuditObserver) Finished(res Result, stats Stats) {
	if f, ok := res.(Failed); ok && f.Cause != nil {
		a.check(a.log.LogError(f.Cause))
	}
	a.check(a.log.LogResult(Kind(res), string(stats.State), stats.Used, stats.Budget, Detail(res)))
}

// MetricsObserver records provider, tool and result metrics.
type MetricsObserver struct {
	NopObserver
	m *metrics.Metrics
}

// NewMetricsObserver returns an observer recording into m.
func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) LoopEntered(Stats) {
	o.m.ActiveSessions.Inc()
}

func (o *MetricsObserver) ProviderResponse(provider, _ string, elapsed time.Duration, err error) {
	o.m.ObserveProvider(provider, elapsed, err)
}

func (o *MetricsObserver) ToolCompleted(res tools.Result) {
	o.m.ObserveTool(res.ToolName, res.Success, time.Duration(res.ExecutionTimeMs)*time.Millisecond)
}

func (o *MetricsObserver) Finished(res Result, _ Stats) {
	o.m.ActiveSessions.Dec()
	o.m.ObserveResult(Kind(res))
}
