// Package manager runs one verb against every target selected from an inventory source.
package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/executor"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// Target is handed to an action for one machine. Nothing in it is shared with
// other targets.
type Target struct {
	RunID       string
	Record      *dcim.TargetRecord
	Credentials *credentials.Credentials
	Driver      oob.Driver
	Logger      log.Logger
}

// Action performs a verb on one target. Check verbs return their verdict, other
// verbs return nil.
type Action func(ctx context.Context, t *Target) (*health.Verdict, error)

// CredentialResolver resolves the BMC credentials of a target.
type CredentialResolver interface {
	Resolve(ctx context.Context, target *dcim.TargetRecord) (*credentials.Credentials, error)
}

// DriverFactory builds the driver registered under name.
type DriverFactory func(name string, deps oob.Deps) (oob.Driver, error)

// Options configures a Manager.
type Options struct {
	Config   *config.Config
	Source   dcim.Source
	Resolver CredentialResolver

	// NewDriver defaults to oob.New.
	NewDriver DriverFactory

	// Executor and Clock are passed to every driver. Nil selects the defaults.
	Executor executor.Executor
	Clock    clock.Clock

	// StopOnError stops at the first target that fails.
	StopOnError bool

	Logger log.Logger
}

// Manager dispatches actions to targets one at a time.
type Manager struct {
	opts Options
	log  log.Logger
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil || opts.Source == nil || opts.Resolver == nil {
		return nil, errors.New(errors.ErrInvalidInput, "manager needs a config, an inventory source and a credential resolver")
	}
	if opts.NewDriver == nil {
		opts.NewDriver = oob.New
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Manager{
		opts: opts,
		log:  log.OrStd(opts.Logger).WithName("manager"),
	}, nil
}

// Result is the outcome of an action on one target.
type Result struct {
	RunID    string
	Target   string
	Driver   string
	Verdict  *health.Verdict
	Err      error
	Duration time.Duration
}

// Run lists the targets matching filter and runs action on each in turn. A
// failing target does not stop the others unless StopOnError is set. The
// returned error is reserved for a failing inventory query.
func (m *Manager) Run(ctx context.Context, filter dcim.Filter, action Action) (*Summary, error) {
	targets, err := m.opts.Source.ListTargets(ctx, filter)
	if err != nil {
		return nil, errors.WithOp(err, "list targets")
	}
	if len(targets) == 0 {
		return nil, errors.Newf(errors.ErrNotFound, "no targets match %q", filter.Query)
	}
	m.log.Debug("targets selected", "count", len(targets), "query", filter.Query, "kind", filter.Kind)

	summary := &Summary{}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := m.runOne(ctx, target, action)
		summary.Results = append(summary.Results, res)
		if res.Err != nil && m.opts.StopOnError {
			break
		}
	}
	return summary, nil
}

func (m *Manager) runOne(ctx context.Context, record *dcim.TargetRecord, action Action) Result {
	start := m.opts.Clock.Now()
	res := Result{
		RunID:  uuid.NewString(),
		Target: record.Name,
		Driver: m.opts.Config.Driver(record.Vendor, oob.Known),
	}
	logger := m.log.WithValues("run", res.RunID, "target", record.Name, "driver", res.Driver)

	res.Verdict, res.Err = m.invoke(ctx, record, res, logger, action)
	res.Duration = m.opts.Clock.Since(start)

	if res.Err != nil {
		logger.Error(res.Err, "action failed", "fatal", errors.IsFatal(res.Err))
	} else {
		logger.Debug("action done", "duration", res.Duration)
	}
	return res
}

func (m *Manager) invoke(ctx context.Context, record *dcim.TargetRecord, res Result, logger log.Logger, action Action) (*health.Verdict, error) {
	creds, err := m.opts.Resolver.Resolve(ctx, record)
	if err != nil {
		return nil, err
	}

	driver, err := m.opts.NewDriver(res.Driver, oob.Deps{
		Target:      record,
		Credentials: creds,
		Profile:     m.opts.Config.OOB(record.Vendor),
		Source:      m.opts.Source,
		Executor:    m.opts.Executor,
		Clock:       m.opts.Clock,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return action(ctx, &Target{
		RunID:       res.RunID,
		Record:      record,
		Credentials: creds,
		Driver:      driver,
		Logger:      logger,
	})
}

// Summary collects the results of a run in target order.
type Summary struct {
	Results []Result
}

// Failed returns the results that ended in an error.
func (s *Summary) Failed() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Worst returns the worst verdict severity. A failed target counts as UNKNOWN.
func (s *Summary) Worst() health.Severity {
	worst := health.OK
	for _, r := range s.Results {
		if r.Verdict != nil {
			worst = health.Worst(worst, r.Verdict.Severity)
		}
		if r.Err != nil {
			worst = health.Worst(worst, health.Unknown)
		}
	}
	return worst
}

// ExitCode is the process exit status. Check verbs exit with the worst
// severity, other verbs with 1 when any target failed.
func (s *Summary) ExitCode(check bool) int {
	if check {
		return s.Worst().ExitCode()
	}
	if len(s.Failed()) > 0 {
		return 1
	}
	return 0
}

// String returns a human-readable report of the run.
func (s *Summary) String() string {
	if len(s.Results) == 0 {
		return "No targets processed"
	}

	var b strings.Builder
	for _, r := range s.Results {
		status := "OK"
		switch {
		case r.Err != nil:
			status = "FAILED"
		case r.Verdict != nil:
			status = r.Verdict.Severity.String()
		}
		fmt.Fprintf(&b, "%s: %s (%s, %s)\n", r.Target, status, r.Driver, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(&b, "  Error: %v\n", r.Err)
		}
	}
	fmt.Fprintf(&b, "\nSummary: %d/%d targets succeeded\n", len(s.Results)-len(s.Failed()), len(s.Results))
	return b.String()
}
