package oob

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/firmware"
	"github.com/davidroman0O/bmcmanager/pkg/health"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
	"github.com/davidroman0O/bmcmanager/pkg/rpc"
)

const (
	// DefaultFactoryResetTimeout bounds factory-reset --wait.
	DefaultFactoryResetTimeout = 10 * time.Minute

	factoryResetPollInterval = 10 * time.Second

	// lastSELRecord asks getanalysedsel for the whole log.
	lastSELRecord = 65535
)

// Device types reported by getimageinfo.
var deviceNames = map[int]string{
	1:   "TSM",
	2:   "BIOS",
	3:   "LG_CPLD_000",
	4:   "PSU",
	5:   "RAID",
	6:   "Mezz",
	201: "TDM",
	202: "LG_WIND",
	203: "LG_LIND",
	204: "LG_WORK",
	205: "LG_DIAG",
}

var memoryBlocks = regexp.MustCompile(`(?m)NumberOfBlocks=(\d+)`)

// Lenovo extends the generic driver with the web session RPC and the
// management shell of Lenovo BMCs.
type Lenovo struct {
	*IPMI
	rpc RPCClient
}

var _ Driver = (*Lenovo)(nil)

// NewLenovo creates the Lenovo driver.
func NewLenovo(d Deps) *Lenovo {
	client := d.RPC
	if client == nil {
		client = newRPCClient(d)
	}
	return &Lenovo{
		IPMI: NewIPMI(DriverLenovo, d),
		rpc:  client,
	}
}

// LockPowerSwitch implements Driver.
func (l *Lenovo) LockPowerSwitch(ctx context.Context) error {
	_, err := l.ipmitool(ctx, "raw", "0x00", "0x0a", "0x01")
	return err
}

// UnlockPowerSwitch implements Driver.
func (l *Lenovo) UnlockPowerSwitch(ctx context.Context) error {
	_, err := l.ipmitool(ctx, "raw", "0x00", "0x0a", "0x00")
	return err
}

// RPC implements Driver. An empty response yields an empty table.
func (l *Lenovo) RPC(ctx context.Context, name string, params map[string]any) (*Table, error) {
	resp, err := l.rpc.Call(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return recordsTable(resp.Records), nil
}

// IPMILogsAnalysed implements Driver.
func (l *Lenovo) IPMILogsAnalysed(ctx context.Context) (*Table, error) {
	resp, err := l.rpc.Call(ctx, "getanalysedsel", map[string]any{"WEBVAR_END_RECORD": lastSELRecord})
	if err != nil {
		return nil, err
	}
	records := make([]rpc.Record, len(resp.Records))
	for i, rec := range resp.Records {
		out := make(rpc.Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		ts, _ := rec.Int("TimeStamp")
		out["TimeStamp"] = time.Unix(int64(ts), 0).UTC().Format(time.DateTime)
		records[i] = out
	}
	return recordsTable(records), nil
}

// GetFirmware implements Driver.
func (l *Lenovo) GetFirmware(ctx context.Context) (*Table, error) {
	resp, err := l.rpc.Call(ctx, "getimageinfo", nil)
	if err != nil {
		return nil, err
	}
	return recordsTable(resp.Records), nil
}

// RefreshFirmware implements Driver. BIOS and TSM versions and the list of PSU
// versions are written to the inventory custom fields.
func (l *Lenovo) RefreshFirmware(ctx context.Context) error {
	resp, err := l.rpc.Call(ctx, "getimageinfo", nil)
	if err != nil {
		return err
	}
	if resp.Empty() {
		return errors.New(errors.ErrNotFound, "no firmware versions retrieved")
	}
	fields, err := firmwareFields(resp)
	if err != nil {
		return err
	}
	return l.setCustomFields(ctx, fields)
}

func firmwareFields(resp rpc.Response) (map[string]any, error) {
	fields := make(map[string]any)
	var psus []string
	for _, rec := range resp.Records {
		devType, _ := rec.Int("DEV_TYPE")
		name, ok := deviceNames[devType]
		if !ok {
			return nil, errors.Newf(errors.ErrProtocolDecode, "unknown firmware device type %d", devType)
		}
		version := rec.String("CURIMG_VER")
		switch name {
		case dcim.FieldBIOS, dcim.FieldTSM:
			fields[name] = version
		case dcim.FieldPSU:
			psus = append(psus, fmt.Sprintf("%s/%s: %s", rec.String("SLOT_NO"), rec.String("DEV_IDENTIFIER"), version))
		}
	}
	sort.Strings(psus)
	fields[dcim.FieldPSU] = strings.Join(psus, ", ")
	return fields, nil
}

// FirmwareUpgrade implements Driver.
func (l *Lenovo) FirmwareUpgrade(ctx context.Context, opts firmware.Options) (*firmware.Result, error) {
	return firmware.NewOrchestrator(l.rpc, l.clock, l.log).Run(ctx, opts)
}

func (l *Lenovo) disks(ctx context.Context) ([]health.Disk, error) {
	resp, err := l.rpc.Call(ctx, "gethddinfo", nil)
	if err != nil {
		return nil, err
	}
	disks := make([]health.Disk, 0, len(resp.Records))
	for _, rec := range resp.Records {
		var d health.Disk
		d.Index, _ = rec.Int("DRIVE_INDEX")
		d.Controller, _ = rec.Int("CONTROLLER_INDEX")
		d.Slot, _ = rec.Int("SLOT_NUMBER")
		d.SizeMB, _ = rec.Int("SIZE")
		d.MediaType, _ = rec.Int("MEDIA_TYPE")
		d.State, _ = rec.Int("DEVICE_STATE")
		d.Interface, _ = rec.Int("INTF_TYPE")
		d.LinkSpeed, _ = rec.Int("LINK_SPEED")
		d.Vendor = rec.String("VENDOR_ID")
		disks = append(disks, d)
	}
	return disks, nil
}

// GetDisks implements Driver.
func (l *Lenovo) GetDisks(ctx context.Context) (*Table, error) {
	disks, err := l.disks(ctx)
	if err != nil {
		return nil, err
	}
	t := NewTable(health.Disk{}.Columns()...)
	for _, d := range disks {
		row := d.Row()
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		t.AddRow(cells...)
	}
	return t, nil
}

// CheckDisks implements Driver.
func (l *Lenovo) CheckDisks(ctx context.Context, expected *int) (health.Verdict, error) {
	prefix := l.target.Identifier + " disks"
	disks, err := l.disks(ctx)
	if err != nil {
		return health.Verdict{Severity: health.Unknown, Prefix: prefix, Summary: []string{"Failed to read disks"}}, err
	}
	v := health.CheckDisks(disks, expected)
	v.Prefix = prefix
	return v, nil
}

// systemRAM reads the installed memory in GB. Zero means it could not be read.
func (l *Lenovo) systemRAM(ctx context.Context) int {
	out, err := l.shell.Run(ctx, "show admin1/hdwr1/memory1")
	if err != nil {
		l.log.Error(err, "failed to read memory inventory")
		return 0
	}
	m := memoryBlocks.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	blocks, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return blocks / 1024 / 1024
}

// SystemRAM implements Driver.
func (l *Lenovo) SystemRAM(ctx context.Context) (*Table, error) {
	t := NewTable("ram_gb")
	t.AddRow(l.systemRAM(ctx))
	return t, nil
}

// CheckRAM implements Driver.
func (l *Lenovo) CheckRAM(ctx context.Context, expected *int) (health.Verdict, error) {
	v := health.CheckRAM(l.systemRAM(ctx), expected)
	v.Prefix = l.target.Identifier + " installed RAM"
	return v, nil
}

// FactoryReset implements Driver. No configuration is preserved. With Wait it
// blocks until the web server accepts the session again.
func (l *Lenovo) FactoryReset(ctx context.Context, opts FactoryResetOptions) error {
	l.log.Info("setting preserve config")
	resp, err := l.rpc.Call(ctx, "setpreservecfg", map[string]any{
		"PRSRV_CFG":     "0,0,0,0,0,0,0,0,0,0,0,",
		"PRSRV_CFG_CNT": "11",
		"PRSRV_SELECT":  "0,1,2,3,4,5,6,7,8,9,10,",
	})
	if err != nil {
		return err
	}
	l.log.Debug("setpreservecfg", "records", resp.Records)

	l.log.Info("starting factory reset")
	resp, err = l.rpc.Call(ctx, "setfactorydefaults", nil)
	if err != nil {
		return err
	}
	l.log.Debug("setfactorydefaults", "records", resp.Records)
	l.log.Info("factory reset process started")

	if !opts.Wait {
		return nil
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFactoryResetTimeout
	}
	sleep := retry.SleepOn(l.clock)
	deadline := l.clock.Now().Add(timeout)
	for l.clock.Now().Before(deadline) {
		ok, err := l.rpc.Validate(ctx)
		switch {
		case ok:
			l.log.Info("factory reset done")
			return nil
		case err != nil:
			l.log.Info("factory reset in progress", "error", err)
		default:
			l.log.Info("factory reset in progress")
		}
		if err := sleep(ctx, factoryResetPollInterval); err != nil {
			return err
		}
	}
	return errors.Newf(errors.ErrTimeout, "BMC did not come back within %s", timeout)
}
