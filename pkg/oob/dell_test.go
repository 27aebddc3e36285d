package oob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/bmcmanager/errors"
)

const (
	collectOutput = "RAC1182: The Job ID is JID_123456789012"
	exportOutput  = "RAC1183: The Job ID is JID_223456789012"
	jobDone       = "Job ID=JID_123456789012\nStatus=Completed\nMessage=[SRV088: Job completed successfully.]"
)

func TestDellDiagnostics(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mockShell)
		wantErr bool
		calls   int
	}{
		{
			name: "collects and exports",
			setup: func(m *mockShell) {
				m.addResponse("racadm techsupreport collect", collectOutput, nil)
				m.addResponse("racadm jobqueue view -i JID_123456789012", jobDone, nil)
				m.addResponse("racadm techsupreport export -l nfs.example.com:/tsr", exportOutput, nil)
				m.addResponse("racadm jobqueue view -i JID_223456789012", jobDone, nil)
			},
			calls: 4,
		},
		{
			name: "no job id",
			setup: func(m *mockShell) {
				m.addResponse("racadm techsupreport collect", "ERROR: RAC947: Invalid object name specified.", nil)
			},
			wantErr: true,
			calls:   1,
		},
		{
			name: "job failed",
			setup: func(m *mockShell) {
				m.addResponse("racadm techsupreport collect", collectOutput, nil)
				m.addResponse("racadm jobqueue view -i JID_123456789012", "Status=Failed", nil)
			},
			wantErr: true,
			calls:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.shell)
			start := f.clock.Now()

			err := NewDell(f.deps).Diagnostics(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrExecution), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, f.shell.calls, tt.calls)
			if tt.calls > 1 {
				assert.Equal(t, 3*time.Minute, f.clock.Since(start))
			}
		})
	}
}

func TestDellDiagnosticsNeedsShare(t *testing.T) {
	f := newFixture()
	f.deps.Credentials.NFSShare = ""
	err := NewDell(f.deps).Diagnostics(context.Background())
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	assert.Empty(t, f.shell.calls)
}

func TestDellCommands(t *testing.T) {
	tests := []struct {
		name     string
		call     func(context.Context, *Dell) (string, error)
		commands []string
	}{
		{
			name: "autoupdate",
			call: func(ctx context.Context, d *Dell) (string, error) { return d.AutoUpdate(ctx) },
			commands: []string{
				"racadm set lifecycleController.lcattributes.AutoUpdate Enabled",
				"racadm autoupdatescheduler create -l http://repo.example.com/dell/ -f grnet_1.00_Catalog.xml -a 0 -time 08:30 -dom * -wom * -dow * -rp 1",
			},
		},
		{
			name:     "upgrade",
			call:     func(ctx context.Context, d *Dell) (string, error) { return d.Upgrade(ctx) },
			commands: []string{"racadm update -f grnet_1.00_Catalog.xml -e repo.example.com/dell -t HTTP -a FALSE"},
		},
		{
			name:     "idrac info",
			call:     func(ctx context.Context, d *Dell) (string, error) { return d.IDRACInfo(ctx) },
			commands: []string{"racadm get idrac.info", "racadm get bios.sysinformation"},
		},
		{
			name:     "clear autoupdate",
			call:     func(ctx context.Context, d *Dell) (string, error) { return d.ClearAutoUpdate(ctx) },
			commands: []string{"racadm autoupdatescheduler clear"},
		},
		{
			name:     "flush jobs",
			call:     func(ctx context.Context, d *Dell) (string, error) { return d.FlushJobs(ctx) },
			commands: []string{"racadm jobqueue delete --all"},
		},
		{
			name: "storage status",
			call: func(ctx context.Context, d *Dell) (string, error) {
				return d.StorageStatus(ctx, StorageSummary)
			},
			commands: []string{"racadm storage get status"},
		},
		{
			name: "physical disks",
			call: func(ctx context.Context, d *Dell) (string, error) {
				return d.StorageStatus(ctx, StoragePhysical)
			},
			commands: []string{"racadm storage get pdisks -o"},
		},
		{
			name: "controllers",
			call: func(ctx context.Context, d *Dell) (string, error) {
				return d.StorageStatus(ctx, StorageControllers)
			},
			commands: []string{"racadm storage get controllers -o"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			for _, c := range tt.commands {
				f.shell.addResponse(c, "ok", nil)
			}

			_, err := tt.call(context.Background(), NewDell(f.deps))
			require.NoError(t, err)
			assert.Equal(t, tt.commands, f.shell.calls)
		})
	}
}

func TestDellStorageStatusRejectsUnknownView(t *testing.T) {
	f := newFixture()
	_, err := NewDell(f.deps).StorageStatus(context.Background(), "vdisks")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestDellConsole(t *testing.T) {
	f := newFixture()
	require.NoError(t, NewDell(f.deps).Console(context.Background()))
	assert.Equal(t, []string{"moob -u admin -p s3cret -m 10.0.0.5"}, f.exec.started)
}
