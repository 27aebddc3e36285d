package manager

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

type fakeSource struct {
	dcim.Direct
	targets []*dcim.TargetRecord
	err     error
}

func (f *fakeSource) ListTargets(context.Context, dcim.Filter) ([]*dcim.TargetRecord, error) {
	return f.targets, f.err
}

type fakeResolver struct {
	fail map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, t *dcim.TargetRecord) (*credentials.Credentials, error) {
	if f.fail[t.Name] {
		return nil, errors.New(errors.ErrCredential, "no credentials available")
	}
	return &credentials.Credentials{Host: t.Host(), Username: "admin", Password: "s3cret"}, nil
}

// fakeExecutor answers every command with the same output.
type fakeExecutor struct {
	out   string
	calls []string
}

func (f *fakeExecutor) Run(_ context.Context, argv []string) (string, error) {
	f.calls = append(f.calls, strings.Join(argv, " "))
	return f.out, nil
}

func (f *fakeExecutor) Exec(context.Context, []string) error  { return nil }
func (f *fakeExecutor) Start(context.Context, []string) error { return nil }

func targets(vendors ...string) []*dcim.TargetRecord {
	out := make([]*dcim.TargetRecord, len(vendors))
	for i, v := range vendors {
		name := "node-" + string(rune('a'+i))
		out[i] = &dcim.TargetRecord{Name: name, Identifier: name, Address: "https://10.0.0." + string(rune('1'+i)), Vendor: v}
	}
	return out
}

func newManager(t *testing.T, source dcim.Source, resolver CredentialResolver, exec *fakeExecutor, stop bool) (*Manager, *[]string) {
	t.Helper()
	cfg := config.Default()
	cfg.OOBOverrides = map[string]string{"fujitsu": "base"}

	var built []string
	m, err := New(Options{
		Config:   cfg,
		Source:   source,
		Resolver: resolver,
		NewDriver: func(name string, deps oob.Deps) (oob.Driver, error) {
			built = append(built, name)
			return oob.New(name, deps)
		},
		Executor:    exec,
		Clock:       clocktesting.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		StopOnError: stop,
		Logger:      log.NewNopLogger(),
	})
	require.NoError(t, err)
	return m, &built
}

func TestRunDispatchesPerTarget(t *testing.T) {
	source := &fakeSource{targets: targets("Lenovo", "Dell", "Fujitsu", "Supermicro")}
	exec := &fakeExecutor{out: "Chassis Power is on"}
	m, built := newManager(t, source, &fakeResolver{}, exec, false)

	var runIDs []string
	summary, err := m.Run(context.Background(), dcim.Filter{Query: "rack-1", Kind: dcim.FilterRack},
		func(ctx context.Context, target *Target) (*health.Verdict, error) {
			runIDs = append(runIDs, target.RunID)
			_, err := target.Driver.PowerStatus(ctx)
			return nil, err
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"lenovo", "dell", "base", "base"}, *built)
	require.Len(t, summary.Results, 4)
	assert.Len(t, exec.calls, 4)
	assert.Equal(t, "ipmitool -I lanplus -H 10.0.0.1 -U admin -P s3cret chassis power status", exec.calls[0])
	assert.Empty(t, summary.Failed())
	assert.Equal(t, 0, summary.ExitCode(false))

	seen := map[string]bool{}
	for _, id := range runIDs {
		assert.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Len(t, seen, 4)
}

func TestRunContinuesAfterFailures(t *testing.T) {
	tests := []struct {
		name    string
		stop    bool
		results int
		failed  int
	}{
		{name: "continues", stop: false, results: 3, failed: 1},
		{name: "stops", stop: true, results: 1, failed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{targets: targets("base", "base", "base")}
			resolver := &fakeResolver{fail: map[string]bool{"node-a": true}}
			exec := &fakeExecutor{}
			m, built := newManager(t, source, resolver, exec, tt.stop)

			summary, err := m.Run(context.Background(), dcim.Filter{Query: "node"},
				func(context.Context, *Target) (*health.Verdict, error) { return nil, nil })
			require.NoError(t, err)
			assert.Len(t, summary.Results, tt.results)
			require.Len(t, summary.Failed(), tt.failed)
			assert.True(t, errors.IsCredential(summary.Failed()[0].Err))
			assert.Len(t, *built, tt.results-tt.failed)
			assert.Equal(t, 1, summary.ExitCode(false))
		})
	}
}

func TestRunSourceErrors(t *testing.T) {
	m, _ := newManager(t, &fakeSource{err: errors.New(errors.ErrConnection, "netbox down")}, &fakeResolver{}, &fakeExecutor{}, false)
	_, err := m.Run(context.Background(), dcim.Filter{Query: "x"}, nil)
	assert.True(t, errors.Is(err, errors.ErrConnection))

	m, _ = newManager(t, &fakeSource{}, &fakeResolver{}, &fakeExecutor{}, false)
	_, err = m.Run(context.Background(), dcim.Filter{Query: "nothing"}, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestSummaryExitCode(t *testing.T) {
	warning := &health.Verdict{Severity: health.Warning}
	critical := &health.Verdict{Severity: health.Critical}

	tests := []struct {
		name    string
		results []Result
		check   int
		other   int
	}{
		{"empty", nil, 0, 0},
		{"all ok", []Result{{Verdict: &health.Verdict{}}}, 0, 0},
		{"worst wins", []Result{{Verdict: warning}, {Verdict: critical}, {Verdict: warning}}, 2, 0},
		{"failure is unknown", []Result{{Verdict: warning}, {Err: errors.New(errors.ErrTimeout, "late")}}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Summary{Results: tt.results}
			assert.Equal(t, tt.check, s.ExitCode(true))
			assert.Equal(t, tt.other, s.ExitCode(false))
		})
	}
}

func TestSummaryString(t *testing.T) {
	s := &Summary{Results: []Result{
		{Target: "node-a", Driver: "lenovo", Verdict: &health.Verdict{Severity: health.Warning}, Duration: time.Second},
		{Target: "node-b", Driver: "base", Err: errors.New(errors.ErrExecution, "ipmitool failed")},
	}}
	out := s.String()
	assert.Contains(t, out, "node-a: WARNING (lenovo, 1s)")
	assert.Contains(t, out, "node-b: FAILED (base, 0s)")
	assert.Contains(t, out, "Summary: 1/2 targets succeeded")

	assert.Equal(t, "No targets processed", (&Summary{}).String())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
