package oob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/health"
)

func TestNew(t *testing.T) {
	f := newFixture()

	for _, name := range Names() {
		d, err := New(name, f.deps)
		require.NoError(t, err)
		assert.Equal(t, name, d.Vendor())
	}

	_, err := New("fujitsu", f.deps)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	deps := f.deps
	deps.Credentials = nil
	_, err = New(DriverBase, deps)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	assert.True(t, Known("dell"))
	assert.False(t, Known("supermicro"))
}

func TestUnsupportedVerbs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	base := NewIPMI(DriverBase, f.deps)
	lenovo := NewLenovo(f.deps)
	dell := NewDell(f.deps)

	tests := []struct {
		name string
		call func() error
	}{
		{"base diagnostics", func() error { return base.Diagnostics(ctx) }},
		{"base lenovo rpc", func() error { _, err := base.RPC(ctx, "getimageinfo", nil); return err }},
		{"base console", func() error { return base.Console(ctx) }},
		{"lenovo console", func() error { return lenovo.Console(ctx) }},
		{"lenovo flush jobs", func() error { _, err := lenovo.FlushJobs(ctx); return err }},
		{"dell factory reset", func() error { return dell.FactoryReset(ctx, FactoryResetOptions{}) }},
		{"dell check disks", func() error { _, err := dell.CheckDisks(ctx, nil); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.IsUnsupported(err), "got %v", err)
		})
	}
	assert.Empty(t, f.exec.calls)
	assert.Empty(t, f.rpc.calls)
}

func TestArgv(t *testing.T) {
	f := newFixture()
	d := NewIPMI(DriverBase, f.deps)
	assert.Equal(t,
		[]string{"ipmitool", "-I", "lanplus", "-H", "10.0.0.5", "-U", "admin", "-P", "s3cret", "sel", "list"},
		d.ipmitoolArgv("sel", "list"))
	assert.Equal(t,
		[]string{"ipmi-dcmi", "-h", "10.0.0.5", "-u", "admin", "-p", "s3cret", "--driver-type=LAN_2_0", "--get-system-power-statistics"},
		d.dcmiArgv())

	t.Setenv("XDG_CACHE_HOME", "/var/cache/bmc")
	assert.Contains(t, d.sensorsArgv(), "--sdr-cache-dir=/var/cache/bmc")

	f.deps.Target.InBand = true
	f.deps.Credentials.Host = ""
	local := NewIPMI(DriverBase, f.deps)
	assert.Equal(t, []string{"ipmitool", "chassis", "power", "status"}, local.ipmitoolArgv("chassis", "power", "status"))
	assert.Equal(t, []string{"ipmi-sel", "--output-event-state", "--interpret-oem-data", "--entity-sensor-names", "--sensor-types=all", "--ignore-sdr-cache"}, local.selArgv())
}

func TestSimpleVerbs(t *testing.T) {
	tests := []struct {
		name    string
		command string
		call    func(context.Context, *IPMI) (string, error)
	}{
		{"power status", "chassis power status", func(ctx context.Context, d *IPMI) (string, error) { return d.PowerStatus(ctx) }},
		{"power on", "chassis power on", func(ctx context.Context, d *IPMI) (string, error) { return d.PowerOn(ctx) }},
		{"soft power off", "chassis power soft", func(ctx context.Context, d *IPMI) (string, error) {
			return d.PowerOff(ctx, PowerOffOptions{})
		}},
		{"forced power off", "chassis power off", func(ctx context.Context, d *IPMI) (string, error) {
			return d.PowerOff(ctx, PowerOffOptions{Force: true})
		}},
		{"power cycle", "chassis power cycle", func(ctx context.Context, d *IPMI) (string, error) { return d.PowerCycle(ctx) }},
		{"power reset", "chassis power reset", func(ctx context.Context, d *IPMI) (string, error) { return d.PowerReset(ctx) }},
		{"boot pxe", "chassis bootdev pxe", func(ctx context.Context, d *IPMI) (string, error) { return d.BootPXE(ctx) }},
		{"boot local", "chassis bootdev disk", func(ctx context.Context, d *IPMI) (string, error) { return d.BootLocal(ctx) }},
		{"identify", "chassis identify force", func(ctx context.Context, d *IPMI) (string, error) {
			return d.Identify(ctx, IdentifyOptions{})
		}},
		{"identify for a while", "chassis identify 30", func(ctx context.Context, d *IPMI) (string, error) {
			return d.Identify(ctx, IdentifyOptions{Seconds: 30})
		}},
		{"identify off", "chassis identify 0", func(ctx context.Context, d *IPMI) (string, error) {
			return d.Identify(ctx, IdentifyOptions{Off: true, Seconds: 30})
		}},
		{"warm reset", "mc reset warm", func(ctx context.Context, d *IPMI) (string, error) { return d.IPMIReset(ctx, false) }},
		{"cold reset", "mc reset cold", func(ctx context.Context, d *IPMI) (string, error) { return d.IPMIReset(ctx, true) }},
		{"clear logs", "sel clear", func(ctx context.Context, d *IPMI) (string, error) { return d.ClearIPMILogs(ctx) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.exec.addResponse(ipmiPrefix+tt.command, " done\n", nil)

			out, err := tt.call(context.Background(), NewIPMI(DriverBase, f.deps))
			require.NoError(t, err)
			assert.Equal(t, "done", out)
			assert.Equal(t, []string{ipmiPrefix + tt.command}, f.exec.calls)
		})
	}
}

func TestPowerOffWait(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		timeout  time.Duration
		polls    int
		elapsed  time.Duration
		timedOut bool
	}{
		{
			name:     "reaches off",
			statuses: []string{"Chassis Power is on", "Chassis Power is on", "Chassis Power is off"},
			polls:    3,
			elapsed:  6 * time.Second,
		},
		{
			name:     "times out",
			statuses: []string{"Chassis Power is on"},
			timeout:  10 * time.Second,
			polls:    5,
			elapsed:  12 * time.Second,
			timedOut: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.exec.addResponse(ipmiPrefix+"chassis power soft", "Chassis Power Control: Soft", nil)
			for _, s := range tt.statuses {
				f.exec.addResponse(ipmiPrefix+"chassis power status", s, nil)
			}
			start := f.clock.Now()

			_, err := NewIPMI(DriverBase, f.deps).PowerOff(context.Background(), PowerOffOptions{Wait: true, Timeout: tt.timeout})
			if tt.timedOut {
				require.Error(t, err)
				assert.True(t, errors.IsTimeout(err))
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, f.exec.calls, 1+tt.polls)
			assert.Equal(t, tt.elapsed, f.clock.Since(start))
		})
	}
}

func TestPowerOffIsNotRetried(t *testing.T) {
	f := newFixture()
	f.exec.addResponse(ipmiPrefix+"chassis power soft", "", fmt.Errorf("exit status 1"))

	_, err := NewIPMI(DriverBase, f.deps).PowerOff(context.Background(), PowerOffOptions{Wait: true})
	require.Error(t, err)
	assert.Len(t, f.exec.calls, 1)
}

func TestStatus(t *testing.T) {
	f := newFixture()
	f.exec.addResponse(ipmiPrefix+"chassis status", `System Power         : on
Power Overload       : false
Main Power Fault     : false
Chassis Intrusion    : inactive
`, nil)

	table, err := NewIPMI(DriverBase, f.deps).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "value"}, table.Columns)
	require.Len(t, table.Rows, 4)
	assert.Equal(t, []string{"System Power", "on"}, table.Rows[0])
	assert.Equal(t, []string{"Chassis Intrusion", "inactive"}, table.Rows[3])
}

func TestIPMILogs(t *testing.T) {
	f := newFixture()
	f.exec.addResponse(ipmiPrefix+"sel list", `   1 | 03/01/2024 | 12:00:00 | Power Supply #0x51 | Failure detected | Asserted
   2 | 03/01/2024 | 12:05:00 | Power Supply #0x51 | Failure detected | Deasserted
`, nil)

	table, err := NewIPMI(DriverBase, f.deps).IPMILogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "date", "time", "name", "event", "state"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"2", "03/01/2024", "12:05:00", "Power Supply #0x51", "Failure detected", "Deasserted"}, table.Rows[1])
}

func TestInfoAndCreds(t *testing.T) {
	f := newFixture()
	d := NewIPMI(DriverBase, f.deps)

	info, err := d.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "serial"}, info.Columns)
	assert.Equal(t, [][]string{{"node-a1", "J3012345"}}, info.Rows)

	creds, err := d.Creds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10.0.0.5", "admin", "s3cret"}}, creds.Rows)
}

func TestOpenAndSSH(t *testing.T) {
	f := newFixture()
	d := NewIPMI(DriverBase, f.deps)
	ctx := context.Background()

	require.NoError(t, d.Open(ctx))
	require.NoError(t, d.OpenDCIM(ctx))
	assert.Equal(t, []string{
		browser() + " https://10.0.0.5",
		browser() + " https://netbox.example.com/dcim/devices/42/",
	}, f.exec.started)

	f.exec.addResponse(ipmiPrefix+"chassis power status", "Chassis Power is on", nil)
	require.NoError(t, d.ServerSSH(ctx, true))
	assert.Equal(t, []string{"ssh srv42.example.com"}, f.exec.exec)

	f.deps.Target.AssetTag = ""
	err := NewIPMI(DriverBase, f.deps).ServerSSH(ctx, false)
	assert.True(t, errors.IsNotFound(err))
}

func TestIPMITool(t *testing.T) {
	f := newFixture()
	require.NoError(t, NewIPMI(DriverBase, f.deps).IPMITool(context.Background(), []string{"fru", "print"}))
	assert.Equal(t, []string{ipmiPrefix + "fru print"}, f.exec.exec)
}

func TestIPMISSH(t *testing.T) {
	f := newFixture()
	f.shell.addResponse("version", "SMASH-CLP 1.0", nil)
	d := NewIPMI(DriverBase, f.deps)

	var out bytes.Buffer
	require.NoError(t, d.IPMISSH(context.Background(), ShellOptions{Command: []string{"version"}, Stdout: &out}))
	assert.Equal(t, "SMASH-CLP 1.0\n", out.String())

	out.Reset()
	require.NoError(t, d.IPMISSH(context.Background(), ShellOptions{Stdout: &out}))
	assert.Equal(t, "-> ", out.String())
	assert.Equal(t, []string{"version", "<interactive>"}, f.shell.calls)
}

const userList = `ID  Name             Callin  Link Auth  IPMI Msg   Channel Priv Limit
1                    true    false      false      Unknown (0x00)
2   admin            true    true       true       ADMINISTRATOR
3   operator         true    true       true       OPERATOR
`

func TestFindUserID(t *testing.T) {
	tests := []struct {
		user string
		want string
		ok   bool
	}{
		{"admin", "2", true},
		{"operator", "3", true},
		{"adm", "", false},
		{"root", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, ok := findUserID(userList, tt.user)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := findUserID("no header here", "admin")
	assert.False(t, ok)
}

func TestSetIPMIPassword(t *testing.T) {
	tests := []struct {
		name     string
		opts     PasswordOptions
		secrets  bool
		wantErr  errors.ErrorCode
		secret   []string
		commands int
	}{
		{
			name:     "changes the password",
			opts:     PasswordOptions{NewPassword: "n3w"},
			commands: 2,
		},
		{
			name:     "stores the secret",
			opts:     PasswordOptions{NewPassword: "n3w", SecretRole: "ipmi"},
			secrets:  true,
			secret:   []string{"ipmi", "admin", "n3w"},
			commands: 2,
		},
		{
			name:     "source without secrets",
			opts:     PasswordOptions{NewPassword: "n3w", SecretRole: "ipmi"},
			wantErr:  errors.ErrUnsupported,
			commands: 2,
		},
		{
			name:    "empty password",
			opts:    PasswordOptions{},
			wantErr: errors.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.source.secrets = tt.secrets
			f.exec.addResponse(ipmiPrefix+"user list", userList, nil)
			f.exec.addResponse(ipmiPrefix+"user set password 2 n3w", "Set User Password command successful (user 2)", nil)

			err := NewIPMI(DriverBase, f.deps).SetIPMIPassword(context.Background(), tt.opts)
			if tt.wantErr != errors.ErrUnknown {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, f.exec.calls, tt.commands)
			if tt.commands == 2 {
				assert.Equal(t, ipmiPrefix+"user set password 2 n3w", f.exec.calls[1])
			}
			assert.Equal(t, tt.secret, f.source.secret)
		})
	}
}

const lanPrint = `Set in Progress         : Set Complete
IP Address Source       : Static Address
IP Address              : 10.0.0.5
Subnet Mask             : 255.255.255.0
MAC Address             : 0c:c4:7a:aa:bb:cc
`

func TestGetIPMIAddress(t *testing.T) {
	tests := []struct {
		name    string
		opts    AddressOptions
		output  string
		want    string
		wantErr errors.ErrorCode
	}{
		{"ipv4 by default", AddressOptions{}, lanPrint, "10.0.0.5", 0},
		{"ipv4 url", AddressOptions{Type: AddressIPv4, Scheme: "https"}, lanPrint, "https://10.0.0.5", 0},
		{"mac", AddressOptions{Type: AddressMAC}, lanPrint, "0CC47AAABBCC", 0},
		{"mac host name", AddressOptions{Type: AddressMAC, Domain: "ipmi.example.com", Scheme: "http"}, lanPrint, "http://0CC47AAABBCC.ipmi.example.com", 0},
		{"unknown type", AddressOptions{Type: "ipv6"}, lanPrint, "", errors.ErrInvalidInput},
		{"no address", AddressOptions{}, "Set in Progress : Set Complete\n", "", errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.exec.addResponse(ipmiPrefix+"lan print", tt.output, nil)

			got, err := NewIPMI(DriverBase, f.deps).GetIPMIAddress(context.Background(), tt.opts)
			if tt.wantErr != errors.ErrUnknown {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshIPMIAddress(t *testing.T) {
	f := newFixture()
	f.exec.addResponse(ipmiPrefix+"lan print", lanPrint, nil)

	err := NewIPMI(DriverBase, f.deps).RefreshIPMIAddress(context.Background(), AddressOptions{Scheme: "https"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"IPMI": "https://10.0.0.5"}, f.source.fields)
}

const (
	sensorOutput = `ID | Name | Type | State | Reading | Units | Lower NR | Lower C | Lower NC | Upper NC | Upper C | Upper NR | Event
3|fan1|fan|Warning|1200|RPM|...|800|1000|2000|2500|...|case fan
4 | CPU Temp | Temperature | Nominal | 45.00 | C | N/A | N/A | N/A | 85.00 | 90.00 | N/A | 'OK'
`
	selOutput = `ID | Date | Time | Name | Type | State | Event
1 | PostInit | PostInit | Sensor #0xc3 | Version Change | Warning | Firmware or software change detected
2 | Mar-01-2024 | 12:00:00 | Sensor #0x01 | System Event | Nominal | OEM System Boot Event
`
	dcmiOutput = `    Current Power                        : 212 Watts
    Minimum Power over sampling duration : 180 watts
`
)

func TestCheckIPMI(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")

	tests := []struct {
		name     string
		setup    func(*mockExecutor)
		inBand   bool
		severity health.Severity
		summary  []string
		perf     []string
	}{
		{
			name: "warning fan and firmware record",
			setup: func(m *mockExecutor) {
				m.addResponse("ipmi-dcmi", dcmiOutput, nil)
				m.addResponse("ipmi-sel", selOutput, nil)
				m.addResponse("ipmi-sensors", sensorOutput, nil)
			},
			severity: health.Critical,
			summary:  []string{"1 sensors warning", "1 SEL entries"},
			perf:     []string{"'Current Power'=212", "'fan1'=1200;1000:2000;800:2500", "'CPU Temp'=45.00;:85.00;:90.00"},
		},
		{
			name: "sensors unavailable",
			setup: func(m *mockExecutor) {
				m.addResponse("ipmi-dcmi", dcmiOutput, nil)
				m.addResponse("ipmi-sel", selOutput, nil)
			},
			severity: health.Unknown,
			summary:  []string{"ipmi-sensors failed"},
		},
		{
			name:     "dcmi unavailable",
			setup:    func(*mockExecutor) {},
			severity: health.Unknown,
			summary:  []string{"ipmi-dcmi failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.exec)

			v, err := NewIPMI(DriverBase, f.deps).CheckIPMI(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, "node-a1.example.com IPMI Status", v.Prefix)
			assert.Equal(t, tt.summary, v.Summary)
			if tt.perf != nil {
				assert.Equal(t, tt.perf, v.Perf)
			}
		})
	}

	t.Run("no BMC address", func(t *testing.T) {
		f := newFixture()
		f.deps.Credentials.Host = ""
		v, err := NewIPMI(DriverBase, f.deps).CheckIPMI(context.Background())
		require.NoError(t, err)
		assert.Equal(t, health.Unknown, v.Severity)
		assert.Empty(t, f.exec.calls)
	})
}

func TestClearFirmwareUpgradeLogs(t *testing.T) {
	tests := []struct {
		name    string
		sel     string
		cleared bool
	}{
		{
			name:    "only firmware records",
			sel:     selOutput,
			cleared: true,
		},
		{
			name: "real failure",
			sel: selOutput +
				"3 | Mar-01-2024 | 12:10:00 | PS1 Status | Power Supply | Critical | Power Supply Failure detected\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.exec.addResponse("ipmi-sel", tt.sel, nil)
			f.exec.addResponse(ipmiPrefix+"sel clear", "Clearing SEL.", nil)

			cleared, err := NewIPMI(DriverBase, f.deps).ClearFirmwareUpgradeLogs(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.cleared, cleared)

			last := f.exec.calls[len(f.exec.calls)-1]
			assert.Equal(t, tt.cleared, strings.HasSuffix(last, "sel clear"))
		})
	}
}

func TestCheckFirmware(t *testing.T) {
	f := newFixture()
	f.deps.Target.CustomFields = map[string]any{
		"BIOS": "2.1.0",
		"TSM":  "3.10.0",
	}
	f.deps.Profile.ExpectedFirmwareVersions = map[string]string{"bios": "2.1.0", "tsm": "3.12.0"}

	v, err := NewIPMI(DriverBase, f.deps).CheckFirmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-a1.example.com Firmware versions", v.Prefix)
	assert.Equal(t, health.Warning, v.Severity)
	assert.Empty(t, f.exec.calls)
}
