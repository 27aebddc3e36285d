package oob

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
)

const (
	// updateCatalog is the catalog served from the HTTP share.
	updateCatalog = "grnet_1.00_Catalog.xml"

	// reportCollectTime is how long the BMC needs to collect a support report.
	reportCollectTime = 3 * time.Minute

	jobCompleted = "Job completed successfully"
)

var jobID = regexp.MustCompile(`JID_.*`)

// Dell drives iDRAC controllers through racadm over the management shell.
type Dell struct {
	*IPMI
}

var _ Driver = (*Dell)(nil)

// NewDell creates the Dell driver.
func NewDell(d Deps) *Dell {
	return &Dell{IPMI: NewIPMI(DriverDell, d)}
}

func (d *Dell) racadm(ctx context.Context, command string) (string, error) {
	d.log.Debug("running racadm", "command", command)
	out, err := d.shell.Run(ctx, "racadm "+command)
	if err != nil {
		return "", errors.WithOp(err, "racadm "+command)
	}
	return out, nil
}

// Console implements Driver. It launches the moob virtual console helper.
func (d *Dell) Console(ctx context.Context) error {
	err := d.exec.Start(ctx, []string{"moob", "-u", d.creds.Username, "-p", d.creds.Password, "-m", d.creds.Host})
	if err != nil {
		return errors.Wrap(err, errors.ErrExecution, `could not start moob, install it with "gem install moob"`)
	}
	return nil
}

// Diagnostics implements Driver. It collects a support report and exports it
// to the NFS share.
func (d *Dell) Diagnostics(ctx context.Context) error {
	if d.creds.NFSShare == "" {
		return errors.New(errors.ErrConfiguration, "no NFS share configured")
	}

	jid, err := d.startJob(ctx, "techsupreport collect")
	if err != nil {
		return err
	}
	d.log.Info("waiting for the support report to be collected", "job", jid, "wait", reportCollectTime)
	if err := retry.SleepOn(d.clock)(ctx, reportCollectTime); err != nil {
		return err
	}
	if err := d.confirmJob(ctx, jid); err != nil {
		return err
	}

	jid, err = d.startJob(ctx, "techsupreport export -l "+d.creds.NFSShare)
	if err != nil {
		return err
	}
	return d.confirmJob(ctx, jid)
}

func (d *Dell) startJob(ctx context.Context, command string) (string, error) {
	out, err := d.racadm(ctx, command)
	if err != nil {
		return "", err
	}
	jid := jobID.FindString(out)
	if jid == "" {
		return "", errors.WithContext(
			errors.New(errors.ErrExecution, "no job ID found"),
			map[string]interface{}{"command": command, "output": out},
		)
	}
	return strings.TrimSpace(jid), nil
}

func (d *Dell) confirmJob(ctx context.Context, jid string) error {
	out, err := d.racadm(ctx, "jobqueue view -i "+jid)
	if err != nil {
		return err
	}
	if !strings.Contains(out, jobCompleted) {
		return errors.WithContext(
			errors.Newf(errors.ErrExecution, "job %s did not complete successfully", jid),
			map[string]interface{}{"output": out},
		)
	}
	d.log.Info("job completed", "job", jid)
	return nil
}

// AutoUpdate implements Driver. It enables automatic updates from the HTTP
// share catalog every day at 08:30.
func (d *Dell) AutoUpdate(ctx context.Context) (string, error) {
	if d.creds.HTTPShare == "" {
		return "", errors.New(errors.ErrConfiguration, "no HTTP share configured")
	}
	enabled, err := d.racadm(ctx, "set lifecycleController.lcattributes.AutoUpdate Enabled")
	if err != nil {
		return "", err
	}
	scheduled, err := d.racadm(ctx, "autoupdatescheduler create -l "+d.creds.HTTPShare+
		" -f "+updateCatalog+" -a 0 -time 08:30 -dom * -wom * -dow * -rp 1")
	if err != nil {
		return enabled, err
	}
	return strings.TrimSpace(enabled) + "\n" + strings.TrimSpace(scheduled), nil
}

// ClearAutoUpdate implements Driver.
func (d *Dell) ClearAutoUpdate(ctx context.Context) (string, error) {
	return d.racadm(ctx, "autoupdatescheduler clear")
}

// Upgrade implements Driver. It applies the HTTP share catalog without rebooting.
func (d *Dell) Upgrade(ctx context.Context) (string, error) {
	if d.creds.HTTPShare == "" {
		return "", errors.New(errors.ErrConfiguration, "no HTTP share configured")
	}
	addr := strings.TrimRight(strings.TrimPrefix(d.creds.HTTPShare, "http://"), "/")
	return d.racadm(ctx, "update -f "+updateCatalog+" -e "+addr+" -t HTTP -a FALSE")
}

// IDRACInfo implements Driver.
func (d *Dell) IDRACInfo(ctx context.Context) (string, error) {
	info, err := d.racadm(ctx, "get idrac.info")
	if err != nil {
		return "", err
	}
	bios, err := d.racadm(ctx, "get bios.sysinformation")
	if err != nil {
		return info, err
	}
	return strings.TrimSpace(info) + "\n" + strings.TrimSpace(bios), nil
}

// FlushJobs implements Driver.
func (d *Dell) FlushJobs(ctx context.Context) (string, error) {
	return d.racadm(ctx, "jobqueue delete --all")
}

// StorageStatus implements Driver.
func (d *Dell) StorageStatus(ctx context.Context, view StorageView) (string, error) {
	switch view {
	case StorageSummary, "":
		return d.racadm(ctx, "storage get status")
	case StoragePhysical:
		return d.racadm(ctx, "storage get pdisks -o")
	case StorageControllers:
		return d.racadm(ctx, "storage get controllers -o")
	}
	return "", errors.Newf(errors.ErrInvalidInput, "unknown storage view %q", view)
}
