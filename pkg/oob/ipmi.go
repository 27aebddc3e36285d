package oob

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/executor"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
)

const (
	// DefaultPowerWaitTimeout bounds power-off --wait and ssh --wait.
	DefaultPowerWaitTimeout = 10 * time.Minute

	powerPollInterval = 3 * time.Second
)

var addressPatterns = map[AddressType]*regexp.Regexp{
	AddressIPv4: regexp.MustCompile(`(?m)^IP Address\s*:\s*(\d+(?:\.\d+){3})`),
	AddressMAC:  regexp.MustCompile(`(?m)MAC Address\s*:\s*([a-f0-9]{2}(?::[a-f0-9]{2}){5})`),
}

// IPMI is the generic driver. Every verb runs ipmitool or a freeipmi tool
// through the executor.
type IPMI struct {
	unsupported

	target  *dcim.TargetRecord
	creds   *credentials.Credentials
	profile config.OOBConfig
	source  dcim.Source
	exec    executor.Executor
	shell   RemoteShell
	clock   clock.Clock
	log     log.Logger
}

var _ Driver = (*IPMI)(nil)

// NewIPMI creates the generic driver under the given vendor name.
func NewIPMI(vendor string, d Deps) *IPMI {
	logger := log.OrStd(d.Logger).WithName("oob").WithValues("vendor", vendor, "target", d.Target.Identifier)
	exec := d.Executor
	if exec == nil {
		exec = executor.NewLocal(logger)
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	shell := d.Shell
	if shell == nil {
		shell = newShell(d)
	}
	return &IPMI{
		unsupported: unsupported{vendor: vendor},
		target:      d.Target,
		creds:       d.Credentials,
		profile:     d.Profile,
		source:      d.Source,
		exec:        exec,
		shell:       shell,
		clock:       clk,
		log:         logger,
	}
}

// ipmitoolArgv builds an ipmitool command. In-band targets use the local interface.
func (d *IPMI) ipmitoolArgv(args ...string) []string {
	argv := []string{"ipmitool"}
	if !d.target.InBand {
		argv = append(argv, "-I", "lanplus", "-H", d.creds.Host, "-U", d.creds.Username, "-P", d.creds.Password)
	}
	return append(argv, args...)
}

// freeipmiArgv builds a freeipmi command using LAN 2.0 credentials.
func (d *IPMI) freeipmiArgv(tool string, args ...string) []string {
	argv := []string{tool}
	if !d.target.InBand {
		argv = append(argv, "-h", d.creds.Host, "-u", d.creds.Username, "-p", d.creds.Password, "--driver-type=LAN_2_0")
	}
	return append(argv, args...)
}

func (d *IPMI) ipmitool(ctx context.Context, args ...string) (string, error) {
	out, err := d.exec.Run(ctx, d.ipmitoolArgv(args...))
	if err != nil {
		return "", errors.WithOp(err, "ipmitool "+strings.Join(args, " "))
	}
	return out, nil
}

func (d *IPMI) ipmitoolTrimmed(ctx context.Context, args ...string) (string, error) {
	out, err := d.ipmitool(ctx, args...)
	return strings.TrimSpace(out), err
}

func (d *IPMI) sensorsArgv() []string {
	args := []string{
		"--quiet-cache",
		"--sdr-cache-recreate",
		"--interpret-oem-data",
		"--output-sensor-state",
		"--ignore-not-available-sensors",
		"--output-sensor-thresholds",
	}
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		args = append(args, "--sdr-cache-dir="+dir)
	}
	return d.freeipmiArgv("ipmi-sensors", args...)
}

func (d *IPMI) selArgv() []string {
	return d.freeipmiArgv("ipmi-sel",
		"--output-event-state",
		"--interpret-oem-data",
		"--entity-sensor-names",
		"--sensor-types=all",
		"--ignore-sdr-cache",
	)
}

func (d *IPMI) dcmiArgv() []string {
	return d.freeipmiArgv("ipmi-dcmi", "--get-system-power-statistics")
}

func (d *IPMI) webURL() string {
	return "https://" + d.target.Host()
}

func browser() string {
	if runtime.GOOS == "darwin" {
		return "open"
	}
	return "xdg-open"
}

// Info implements Driver.
func (d *IPMI) Info(context.Context) (*Table, error) {
	return mapTable(d.target.Info), nil
}

// Status implements Driver.
func (d *IPMI) Status(ctx context.Context) (*Table, error) {
	out, err := d.ipmitoolTrimmed(ctx, "chassis", "status")
	if err != nil {
		return nil, err
	}
	t := NewTable("key", "value")
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		t.AddRow(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return t, nil
}

// Creds implements Driver. The password is shown on purpose.
func (d *IPMI) Creds(context.Context) (*Table, error) {
	t := NewTable("address", "username", "password")
	t.AddRow(d.creds.Host, d.creds.Username, d.creds.Password)
	return t, nil
}

// Open implements Driver.
func (d *IPMI) Open(ctx context.Context) error {
	return d.exec.Start(ctx, []string{browser(), d.webURL()})
}

// OpenDCIM implements Driver.
func (d *IPMI) OpenDCIM(ctx context.Context) error {
	if d.source == nil {
		return errors.New(errors.ErrConfiguration, "no inventory source")
	}
	url, err := d.source.URL(d.target)
	if err != nil {
		return err
	}
	return d.exec.Start(ctx, []string{browser(), url})
}

// ServerSSH implements Driver. It connects to the host OS through its asset tag.
func (d *IPMI) ServerSSH(ctx context.Context, waitForPower bool) error {
	if waitForPower {
		if err := d.waitForPower(ctx, PowerOn, DefaultPowerWaitTimeout); err != nil {
			return err
		}
	}
	if d.target.AssetTag == "" {
		return errors.Newf(errors.ErrNotFound, "no asset tag defined for %s", d.target.Identifier)
	}
	return d.exec.Exec(ctx, []string{"ssh", d.target.AssetTag})
}

// waitForPower polls the chassis power state every few seconds.
func (d *IPMI) waitForPower(ctx context.Context, want PowerState, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPowerWaitTimeout
	}
	sleep := retry.SleepOn(d.clock)
	deadline := d.clock.Now().Add(timeout)
	for {
		d.log.Debug("waiting for power state", "state", want)
		out, err := d.ipmitool(ctx, "chassis", "power", "status")
		if err != nil {
			return err
		}
		if strings.HasSuffix(strings.TrimSpace(out), " "+string(want)) {
			return nil
		}
		if !d.clock.Now().Before(deadline) {
			return errors.Newf(errors.ErrTimeout, "chassis did not power %s within %s", want, timeout)
		}
		if err := sleep(ctx, powerPollInterval); err != nil {
			return err
		}
	}
}

// PowerStatus implements Driver.
func (d *IPMI) PowerStatus(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "power", "status")
}

// PowerOn implements Driver.
func (d *IPMI) PowerOn(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "power", "on")
}

// PowerOff implements Driver. Without Force the host is asked to shut down.
func (d *IPMI) PowerOff(ctx context.Context, opts PowerOffOptions) (string, error) {
	mode := "soft"
	if opts.Force {
		mode = "off"
	}
	out, err := d.ipmitoolTrimmed(ctx, "chassis", "power", mode)
	if err != nil || !opts.Wait {
		return out, err
	}
	return out, d.waitForPower(ctx, PowerOff, opts.Timeout)
}

// PowerCycle implements Driver.
func (d *IPMI) PowerCycle(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "power", "cycle")
}

// PowerReset implements Driver.
func (d *IPMI) PowerReset(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "power", "reset")
}

// BootPXE implements Driver.
func (d *IPMI) BootPXE(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "bootdev", "pxe")
}

// BootLocal implements Driver.
func (d *IPMI) BootLocal(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "chassis", "bootdev", "disk")
}

// Identify implements Driver.
func (d *IPMI) Identify(ctx context.Context, opts IdentifyOptions) (string, error) {
	arg := "force"
	switch {
	case opts.Off:
		arg = "0"
	case opts.Seconds > 0:
		arg = strconv.Itoa(opts.Seconds)
	}
	return d.ipmitoolTrimmed(ctx, "chassis", "identify", arg)
}

// IPMIReset implements Driver.
func (d *IPMI) IPMIReset(ctx context.Context, force bool) (string, error) {
	mode := "warm"
	if force {
		mode = "cold"
	}
	return d.ipmitoolTrimmed(ctx, "mc", "reset", mode)
}

// IPMILogs implements Driver.
func (d *IPMI) IPMILogs(ctx context.Context) (*Table, error) {
	out, err := d.ipmitoolTrimmed(ctx, "sel", "list")
	if err != nil {
		return nil, err
	}
	t := NewTable("id", "date", "time", "name", "event", "state")
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "|")
		row := make([]any, len(cells))
		for i, c := range cells {
			row[i] = strings.TrimSpace(c)
		}
		t.AddRow(row...)
	}
	return t, nil
}

// ClearIPMILogs implements Driver.
func (d *IPMI) ClearIPMILogs(ctx context.Context) (string, error) {
	return d.ipmitoolTrimmed(ctx, "sel", "clear")
}

// anomalies reads the event log and returns its non-nominal entries, most recent first.
func (d *IPMI) anomalies(ctx context.Context) ([]health.EventLogEntry, error) {
	out, err := d.exec.Run(ctx, d.selArgv())
	if err != nil {
		return nil, err
	}
	entries, malformed := health.ParseEventLog(out)
	if malformed > 0 {
		d.log.Warn("skipped malformed event log rows", "rows", malformed)
	}
	return health.Anomalies(entries), nil
}

// ClearFirmwareUpgradeLogs implements Driver. The log is cleared only when every
// anomaly in it was left by a firmware update.
func (d *IPMI) ClearFirmwareUpgradeLogs(ctx context.Context) (bool, error) {
	anomalies, err := d.anomalies(ctx)
	if err != nil {
		return false, err
	}
	if !health.OnlyFirmwareUpgradeArtifacts(anomalies) {
		d.log.Info("event log holds more than firmware update records, not clearing", "anomalies", len(anomalies))
		return false, nil
	}
	if _, err := d.ClearIPMILogs(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// IPMISensors implements Driver.
func (d *IPMI) IPMISensors(ctx context.Context) (*Table, error) {
	out, err := d.exec.Run(ctx, d.sensorsArgv())
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	t := NewTable(splitCells(lines[0])...)
	for _, line := range lines[1:] {
		cells := splitCells(line)
		row := make([]any, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		t.AddRow(row...)
	}
	return t, nil
}

func splitCells(line string) []string {
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// IPMISSH implements Driver.
func (d *IPMI) IPMISSH(ctx context.Context, opts ShellOptions) error {
	if len(opts.Command) == 0 {
		return d.shell.Shell(ctx, opts.Stdin, opts.Stdout, opts.Stderr)
	}
	out, err := d.shell.Run(ctx, strings.Join(opts.Command, " "))
	if err != nil {
		return err
	}
	if opts.Stdout != nil {
		_, err = fmt.Fprintln(opts.Stdout, out)
	}
	return err
}

// IPMITool implements Driver.
func (d *IPMI) IPMITool(ctx context.Context, args []string) error {
	return d.exec.Exec(ctx, d.ipmitoolArgv(args...))
}

// SetIPMIPassword implements Driver. It changes the password of the BMC user
// the credentials belong to, then optionally stores it in the inventory.
func (d *IPMI) SetIPMIPassword(ctx context.Context, opts PasswordOptions) error {
	if opts.NewPassword == "" {
		return errors.New(errors.ErrInvalidInput, "new password is empty")
	}
	out, err := d.ipmitool(ctx, "user", "list")
	if err != nil {
		return err
	}
	uid, ok := findUserID(out, d.creds.Username)
	if !ok {
		return errors.Newf(errors.ErrNotFound, "user %s not found on the BMC", d.creds.Username)
	}
	d.log.Debug("found BMC user", "user", d.creds.Username, "id", uid)

	if _, err := d.ipmitool(ctx, "user", "set", "password", uid, opts.NewPassword); err != nil {
		return err
	}
	d.log.Info("BMC password changed", "user", d.creds.Username)

	if opts.SecretRole == "" {
		return nil
	}
	if d.source == nil || !d.source.SupportsSecrets() {
		return errors.New(errors.ErrUnsupported, "inventory source cannot store secrets")
	}
	if err := d.source.SetSecret(ctx, opts.SecretRole, d.target, d.creds.Username, opts.NewPassword); err != nil {
		return errors.WithOp(err, "store new password")
	}
	d.log.Info("inventory secret updated", "role", opts.SecretRole)
	return nil
}

// findUserID locates username in ipmitool user list output, whose columns are
// aligned under the header.
func findUserID(out, username string) (string, bool) {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 {
		return "", false
	}
	nameStart := strings.Index(lines[0], "Name")
	if nameStart < 0 {
		return "", false
	}
	for _, line := range lines[1:] {
		if len(line) <= nameStart {
			continue
		}
		name := line[nameStart:]
		if end := strings.IndexByte(name, ' '); end >= 0 {
			name = name[:end]
		}
		if name == username {
			return strings.TrimSpace(line[:nameStart]), true
		}
	}
	return "", false
}

// GetIPMIAddress implements Driver.
func (d *IPMI) GetIPMIAddress(ctx context.Context, opts AddressOptions) (string, error) {
	if opts.Type == "" {
		opts.Type = AddressIPv4
	}
	pattern, ok := addressPatterns[opts.Type]
	if !ok {
		return "", errors.Newf(errors.ErrInvalidInput, "unknown address type %q", opts.Type)
	}

	out, err := d.ipmitool(ctx, "lan", "print")
	if err != nil {
		return "", err
	}
	m := pattern.FindStringSubmatch(out)
	if m == nil {
		return "", errors.New(errors.ErrNotFound, "no IPMI address found")
	}

	addr := m[1]
	if opts.Type == AddressMAC {
		addr = strings.ToUpper(strings.ReplaceAll(addr, ":", ""))
		if opts.Domain != "" {
			addr = addr + "." + strings.TrimPrefix(opts.Domain, ".")
		}
	}
	if opts.Scheme != "" {
		addr = opts.Scheme + "://" + addr
	}
	return addr, nil
}

// RefreshIPMIAddress implements Driver.
func (d *IPMI) RefreshIPMIAddress(ctx context.Context, opts AddressOptions) error {
	addr, err := d.GetIPMIAddress(ctx, opts)
	if err != nil {
		return err
	}
	return d.setCustomFields(ctx, map[string]any{dcim.FieldIPMI: addr})
}

func (d *IPMI) setCustomFields(ctx context.Context, fields map[string]any) error {
	if d.source == nil {
		return errors.New(errors.ErrConfiguration, "no inventory source")
	}
	d.log.Info("patching custom fields", "fields", fields)
	ok, err := d.source.SetCustomFields(ctx, d.target, fields)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrUnsupported, "inventory source did not store the custom fields")
	}
	return nil
}

// CheckIPMI implements Driver. Tool failures yield an UNKNOWN verdict.
func (d *IPMI) CheckIPMI(ctx context.Context) (health.Verdict, error) {
	prefix := d.target.Identifier + " IPMI Status"
	unknown := func(msg string) (health.Verdict, error) {
		return health.Verdict{Severity: health.Unknown, Prefix: prefix, Summary: []string{msg}}, nil
	}
	if !d.target.InBand && d.creds.Host == "" {
		return unknown("No IPMI information")
	}

	var extra []string
	dcmi, err := d.exec.Run(ctx, d.dcmiArgv())
	if err != nil {
		d.log.Error(err, "ipmi-dcmi failed")
		return unknown("ipmi-dcmi failed")
	}
	if perf, ok := health.PowerPerf(dcmi); ok {
		extra = append(extra, perf)
	}

	anomalies, err := d.anomalies(ctx)
	if err != nil {
		d.log.Error(err, "ipmi-sel failed")
		return unknown("ipmi-sel failed")
	}

	out, err := d.exec.Run(ctx, d.sensorsArgv())
	if err != nil {
		d.log.Error(err, "ipmi-sensors failed")
		return unknown("ipmi-sensors failed")
	}
	sensors, malformed := health.ParseSensors(out)
	if malformed > 0 {
		d.log.Warn("skipped malformed sensor rows", "rows", malformed)
	}

	v := health.EvaluateIPMI(sensors, anomalies, extra...)
	v.Prefix = prefix
	return v, nil
}

// Sensors returns the parsed sensor readings, for metric export.
func (d *IPMI) Sensors(ctx context.Context) ([]health.SensorReading, error) {
	out, err := d.exec.Run(ctx, d.sensorsArgv())
	if err != nil {
		return nil, err
	}
	sensors, _ := health.ParseSensors(out)
	return sensors, nil
}

// CheckFirmware implements Driver. It grades the versions recorded in the
// inventory by refresh-firmware.
func (d *IPMI) CheckFirmware(context.Context) (health.Verdict, error) {
	fields := make(map[string]string)
	for _, name := range []string{dcim.FieldBIOS, dcim.FieldTSM, dcim.FieldPSU} {
		if _, ok := d.target.CustomFields[name]; ok {
			fields[name] = d.target.Field(name)
		}
	}
	v := health.CheckFirmware(fields, d.profile.ExpectedFirmwareVersions, d.profile.ExpectedPSUs)
	v.Prefix = d.target.Identifier + " Firmware versions"
	return v, nil
}
