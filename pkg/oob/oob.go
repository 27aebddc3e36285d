// Package oob implements the out-of-band management verbs for each BMC vendor.
package oob

import (
	"context"
	"io"
	"sort"

	"k8s.io/utils/clock"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/config"
	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/executor"
	"github.com/davidroman0O/bmcmanager/pkg/firmware"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/rpc"
)

// Driver is the verb set every vendor backend offers. Verbs a vendor cannot
// perform return an error for which errors.IsUnsupported holds.
//
// Power transitions and password changes are never retried.
type Driver interface {
	// Vendor is the driver name, e.g. "base" or "lenovo".
	Vendor() string

	Info(ctx context.Context) (*Table, error)
	Status(ctx context.Context) (*Table, error)
	Creds(ctx context.Context) (*Table, error)
	Open(ctx context.Context) error
	OpenDCIM(ctx context.Context) error
	Console(ctx context.Context) error
	ServerSSH(ctx context.Context, waitForPower bool) error

	PowerStatus(ctx context.Context) (string, error)
	PowerOn(ctx context.Context) (string, error)
	PowerOff(ctx context.Context, opts PowerOffOptions) (string, error)
	PowerCycle(ctx context.Context) (string, error)
	PowerReset(ctx context.Context) (string, error)
	BootPXE(ctx context.Context) (string, error)
	BootLocal(ctx context.Context) (string, error)
	Identify(ctx context.Context, opts IdentifyOptions) (string, error)
	LockPowerSwitch(ctx context.Context) error
	UnlockPowerSwitch(ctx context.Context) error

	IPMIReset(ctx context.Context, force bool) (string, error)
	IPMILogs(ctx context.Context) (*Table, error)
	IPMILogsAnalysed(ctx context.Context) (*Table, error)
	ClearIPMILogs(ctx context.Context) (string, error)
	ClearFirmwareUpgradeLogs(ctx context.Context) (bool, error)
	IPMISensors(ctx context.Context) (*Table, error)
	IPMISSH(ctx context.Context, opts ShellOptions) error
	IPMITool(ctx context.Context, args []string) error
	SetIPMIPassword(ctx context.Context, opts PasswordOptions) error
	GetIPMIAddress(ctx context.Context, opts AddressOptions) (string, error)
	RefreshIPMIAddress(ctx context.Context, opts AddressOptions) error

	CheckIPMI(ctx context.Context) (health.Verdict, error)
	CheckFirmware(ctx context.Context) (health.Verdict, error)
	CheckDisks(ctx context.Context, expected *int) (health.Verdict, error)
	CheckRAM(ctx context.Context, expected *int) (health.Verdict, error)

	GetFirmware(ctx context.Context) (*Table, error)
	RefreshFirmware(ctx context.Context) error
	FirmwareUpgrade(ctx context.Context, opts firmware.Options) (*firmware.Result, error)
	RPC(ctx context.Context, name string, params map[string]any) (*Table, error)
	GetDisks(ctx context.Context) (*Table, error)
	SystemRAM(ctx context.Context) (*Table, error)
	FactoryReset(ctx context.Context, opts FactoryResetOptions) error

	Diagnostics(ctx context.Context) error
	AutoUpdate(ctx context.Context) (string, error)
	ClearAutoUpdate(ctx context.Context) (string, error)
	Upgrade(ctx context.Context) (string, error)
	IDRACInfo(ctx context.Context) (string, error)
	FlushJobs(ctx context.Context) (string, error)
	StorageStatus(ctx context.Context, view StorageView) (string, error)
}

// RPCClient is the vendor session RPC used by the Lenovo driver.
type RPCClient interface {
	firmware.Caller
	Validate(ctx context.Context) (bool, error)
}

// RemoteShell runs commands on the BMC management shell.
type RemoteShell interface {
	Run(ctx context.Context, command string) (string, error)
	Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error
}

// Deps are the collaborators of a driver. Target and Credentials are required.
type Deps struct {
	Target      *dcim.TargetRecord
	Credentials *credentials.Credentials
	Profile     config.OOBConfig
	Source      dcim.Source

	// Executor defaults to a local executor.
	Executor executor.Executor

	// Clock drives polling loops. Defaults to the real clock.
	Clock clock.Clock

	// RPC defaults to a session client for the target. Lenovo only.
	RPC RPCClient

	// Shell defaults to an SSH connection to the target's BMC.
	Shell RemoteShell

	Logger log.Logger
}

// Driver names.
const (
	DriverBase   = "base"
	DriverLenovo = "lenovo"
	DriverDell   = "dell"
)

type constructor func(Deps) Driver

var drivers = map[string]constructor{
	DriverBase:   func(d Deps) Driver { return NewIPMI(DriverBase, d) },
	DriverLenovo: func(d Deps) Driver { return NewLenovo(d) },
	DriverDell:   func(d Deps) Driver { return NewDell(d) },
}

// Known reports whether a driver exists under name.
func Known(name string) bool {
	_, ok := drivers[name]
	return ok
}

// Names lists the available drivers.
func Names() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the driver registered under name.
func New(name string, deps Deps) (Driver, error) {
	ctor, ok := drivers[name]
	if !ok {
		return nil, errors.Newf(errors.ErrConfiguration, "unknown OOB driver %q", name)
	}
	if deps.Target == nil || deps.Credentials == nil {
		return nil, errors.New(errors.ErrInvalidInput, "driver needs a target and its credentials")
	}
	return ctor(deps), nil
}

// unsupported answers every verb with an UnsupportedOperation error. Drivers
// embed it and override what they implement.
type unsupported struct {
	vendor string
}

func (u unsupported) Vendor() string { return u.vendor }

func (u unsupported) err(verb string) error { return errors.Unsupported(verb, u.vendor) }

func (u unsupported) Info(context.Context) (*Table, error)   { return nil, u.err("info") }
func (u unsupported) Status(context.Context) (*Table, error) { return nil, u.err("status") }
func (u unsupported) Creds(context.Context) (*Table, error)  { return nil, u.err("creds") }
func (u unsupported) Open(context.Context) error             { return u.err("open") }
func (u unsupported) OpenDCIM(context.Context) error         { return u.err("open-dcim") }
func (u unsupported) Console(context.Context) error          { return u.err("console") }
func (u unsupported) ServerSSH(context.Context, bool) error  { return u.err("ssh") }

func (u unsupported) PowerStatus(context.Context) (string, error) {
	return "", u.err("power-status")
}
func (u unsupported) PowerOn(context.Context) (string, error) { return "", u.err("power-on") }
func (u unsupported) PowerOff(context.Context, PowerOffOptions) (string, error) {
	return "", u.err("power-off")
}
func (u unsupported) PowerCycle(context.Context) (string, error) { return "", u.err("power-cycle") }
func (u unsupported) PowerReset(context.Context) (string, error) { return "", u.err("power-reset") }
func (u unsupported) BootPXE(context.Context) (string, error)    { return "", u.err("boot-pxe") }
func (u unsupported) BootLocal(context.Context) (string, error)  { return "", u.err("boot-local") }
func (u unsupported) Identify(context.Context, IdentifyOptions) (string, error) {
	return "", u.err("identify")
}
func (u unsupported) LockPowerSwitch(context.Context) error   { return u.err("lock-power-switch") }
func (u unsupported) UnlockPowerSwitch(context.Context) error { return u.err("unlock-power-switch") }

func (u unsupported) IPMIReset(context.Context, bool) (string, error) {
	return "", u.err("ipmi-reset")
}
func (u unsupported) IPMILogs(context.Context) (*Table, error) { return nil, u.err("ipmi-logs") }
func (u unsupported) IPMILogsAnalysed(context.Context) (*Table, error) {
	return nil, u.err("ipmi-logs-analysed")
}
func (u unsupported) ClearIPMILogs(context.Context) (string, error) {
	return "", u.err("clear-ipmi-logs")
}
func (u unsupported) ClearFirmwareUpgradeLogs(context.Context) (bool, error) {
	return false, u.err("clear-firmware-upgrade-logs")
}
func (u unsupported) IPMISensors(context.Context) (*Table, error) {
	return nil, u.err("ipmi-sensors")
}
func (u unsupported) IPMISSH(context.Context, ShellOptions) error { return u.err("ipmi-ssh") }
func (u unsupported) IPMITool(context.Context, []string) error    { return u.err("ipmitool") }
func (u unsupported) SetIPMIPassword(context.Context, PasswordOptions) error {
	return u.err("set-ipmi-password")
}
func (u unsupported) GetIPMIAddress(context.Context, AddressOptions) (string, error) {
	return "", u.err("get-ipmi-address")
}
func (u unsupported) RefreshIPMIAddress(context.Context, AddressOptions) error {
	return u.err("refresh-ipmi-address")
}

func (u unsupported) CheckIPMI(context.Context) (health.Verdict, error) {
	return health.Verdict{Severity: health.Unknown}, u.err("check-ipmi")
}
func (u unsupported) CheckFirmware(context.Context) (health.Verdict, error) {
	return health.Verdict{Severity: health.Unknown}, u.err("check-firmware")
}
func (u unsupported) CheckDisks(context.Context, *int) (health.Verdict, error) {
	return health.Verdict{Severity: health.Unknown}, u.err("check-disks")
}
func (u unsupported) CheckRAM(context.Context, *int) (health.Verdict, error) {
	return health.Verdict{Severity: health.Unknown}, u.err("check-ram")
}

func (u unsupported) GetFirmware(context.Context) (*Table, error) {
	return nil, u.err("get-firmware")
}
func (u unsupported) RefreshFirmware(context.Context) error { return u.err("refresh-firmware") }
func (u unsupported) FirmwareUpgrade(context.Context, firmware.Options) (*firmware.Result, error) {
	return nil, u.err("firmware-upgrade")
}
func (u unsupported) RPC(context.Context, string, map[string]any) (*Table, error) {
	return nil, u.err("lenovo-rpc")
}
func (u unsupported) GetDisks(context.Context) (*Table, error)  { return nil, u.err("get-disks") }
func (u unsupported) SystemRAM(context.Context) (*Table, error) { return nil, u.err("system-ram") }
func (u unsupported) FactoryReset(context.Context, FactoryResetOptions) error {
	return u.err("factory-reset")
}

func (u unsupported) Diagnostics(context.Context) error { return u.err("diagnostics") }
func (u unsupported) AutoUpdate(context.Context) (string, error) {
	return "", u.err("autoupdate")
}
func (u unsupported) ClearAutoUpdate(context.Context) (string, error) {
	return "", u.err("clear-autoupdate")
}
func (u unsupported) Upgrade(context.Context) (string, error)   { return "", u.err("upgrade") }
func (u unsupported) IDRACInfo(context.Context) (string, error) { return "", u.err("idrac-info") }
func (u unsupported) FlushJobs(context.Context) (string, error) { return "", u.err("flush-jobs") }
func (u unsupported) StorageStatus(context.Context, StorageView) (string, error) {
	return "", u.err("storage-status")
}

var _ Driver = unsupported{}

// newRPCClient is the default session client of a target.
func newRPCClient(d Deps) RPCClient {
	return rpc.New(rpc.Config{
		Host:     d.Credentials.Host,
		Username: d.Credentials.Username,
		Password: d.Credentials.Password,
		Clock:    d.Clock,
	}, d.Logger)
}

// newShell is the default management shell of a target.
func newShell(d Deps) RemoteShell {
	return executor.NewSSH(executor.SSHConfig{
		Host:     d.Credentials.Host,
		User:     d.Credentials.Username,
		Password: d.Credentials.Password,
	}, d.Logger)
}
