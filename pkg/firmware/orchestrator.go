// Package firmware drives a component firmware update through the vendor session RPC.
package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
	"github.com/davidroman0O/bmcmanager/pkg/rpc"
)

const (
	// DefaultTimeout bounds the progress polling stage.
	DefaultTimeout = 60 * time.Minute

	// DefaultPollInterval is the pause between two progress queries.
	DefaultPollInterval = 10 * time.Second

	// UploadPath receives the bundle during the upload stage.
	UploadPath = "/file_upload_firmware.html"

	backupBundle = "bundle_bkp.bdl"
)

// Caller is the subset of the session RPC client used by an update run.
type Caller interface {
	Call(ctx context.Context, name string, params map[string]any) (rpc.Response, error)
	Upload(ctx context.Context, path, field, filename string, content io.Reader) (int, error)
}

// Outcome is the result of a run.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeNoUpdateAvailable Outcome = "no-update-available"
	OutcomeFailed            Outcome = "failed"
)

// Component identifies the device selected for update.
type Component struct {
	DevType    int
	Slot       int
	Identifier string
	Current    string
	New        string
}

func (c *Component) String() string {
	return fmt.Sprintf("%d/%d/%s", c.DevType, c.Slot, c.Identifier)
}

// ParseComponent parses the "devtype/slot/identifier" form printed by Component.String.
func ParseComponent(s string) (*Component, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return nil, errors.Newf(errors.ErrInvalidInput, "component %q is not devtype/slot/identifier", s)
	}
	devType, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid component device type")
	}
	slot, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid component slot")
	}
	return &Component{DevType: devType, Slot: slot, Identifier: parts[2]}, nil
}

// Options selects what a run does.
type Options struct {
	// Stages to execute. Empty selects all ten.
	Stages []Stage

	// Handle is the update session handle of a previous run. Required when
	// stage 1 is skipped but a later stage needs the handle.
	Handle string

	// Component is the device chosen by a previous run. Used when stage 7 is skipped.
	Component *Component

	// Timeout bounds the polling stage. Defaults to DefaultTimeout.
	Timeout time.Duration

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Bundle is the firmware bundle uploaded in stage 3.
	Bundle     io.Reader
	BundleName string
}

// Anomaly is a non-fatal problem reported by a stage.
type Anomaly struct {
	Stage   Stage
	Message string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("stage %d (%s): %s", int(a.Stage), a.Stage, a.Message)
}

// Result describes a finished or aborted run. Handle and Component can be fed
// back into Options to resume.
type Result struct {
	Outcome   Outcome
	Handle    string
	Component *Component
	Anomalies []Anomaly
}

// Orchestrator executes update runs against one BMC.
type Orchestrator struct {
	caller Caller
	clock  clock.Clock
	log    log.Logger
}

// NewOrchestrator creates an Orchestrator. A nil clock selects the real clock.
func NewOrchestrator(caller Caller, clk clock.Clock, logger log.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Orchestrator{
		caller: caller,
		clock:  clk,
		log:    log.OrStd(logger).WithName("firmware"),
	}
}

// run carries the state threaded between stages.
type run struct {
	*Orchestrator
	opts   Options
	result *Result
}

// Run executes the selected stages in ascending order. Only a failure to enter
// update mode, a lost session and a polling timeout abort the run; every other
// stage problem is logged and recorded as an anomaly.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	stages, err := normalizeStages(opts.Stages)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if err := checkInputs(stages, opts); err != nil {
		return nil, err
	}

	r := &run{
		Orchestrator: o,
		opts:         opts,
		result: &Result{
			Outcome:   OutcomeCompleted,
			Handle:    opts.Handle,
			Component: opts.Component,
		},
	}

	for _, stage := range stages {
		o.log.Info("running firmware stage", "stage", int(stage), "name", stage.String())
		done, err := r.execute(ctx, stage)
		if err != nil {
			r.result.Outcome = OutcomeFailed
			return r.result, errors.WithContext(err, map[string]interface{}{
				"stage":  int(stage),
				"handle": r.result.Handle,
			})
		}
		if done {
			break
		}
	}

	o.log.Info("firmware run finished", "outcome", r.result.Outcome, "anomalies", len(r.result.Anomalies))
	return r.result, nil
}

func checkInputs(stages []Stage, opts Options) error {
	selected := make(map[Stage]bool, len(stages))
	for _, s := range stages {
		selected[s] = true
	}
	if !selected[StageEnterUpdateMode] && opts.Handle == "" {
		for _, s := range []Stage{StageRearmTimer, StageUploadBundle, StageSelectComponent, StageExitUpdateMode} {
			if selected[s] {
				return errors.Newf(errors.ErrInvalidInput, "stage %d (%s) needs an update handle when stage 1 is skipped", int(s), s)
			}
		}
	}
	if selected[StageUploadBundle] && opts.Bundle == nil {
		return errors.New(errors.ErrInvalidInput, "stage 3 (upload-bundle) needs a firmware bundle")
	}
	return nil
}

func (r *run) execute(ctx context.Context, stage Stage) (bool, error) {
	switch stage {
	case StageEnterUpdateMode:
		return false, r.enterUpdateMode(ctx)
	case StageRearmTimer:
		return false, r.rearmTimer(ctx)
	case StageUploadBundle:
		return false, r.uploadBundle(ctx)
	case StageConfirmUpload:
		return false, r.expectEmpty(ctx, stage, "getbundleupldstatus", nil)
	case StageValidateBundle:
		return false, r.expectStatusZero(ctx, stage, "validatebundle", map[string]any{"BUNDLENAME": backupBundle})
	case StageReplaceBundle:
		return false, r.expectStatusZero(ctx, stage, "replacebundlebkp", nil)
	case StageDetectUpdate:
		return r.detectUpdate(ctx)
	case StageSelectComponent:
		return false, r.selectComponent(ctx)
	case StagePollProgress:
		return false, r.pollProgress(ctx)
	case StageExitUpdateMode:
		return false, r.expectEmpty(ctx, stage, "getexitfwupdatemode", map[string]any{
			"MODE":  0,
			"RNDNO": r.result.Handle,
		})
	}
	return false, errors.Newf(errors.ErrInvalidInput, "unknown firmware stage %d", int(stage))
}

func (r *run) anomaly(stage Stage, format string, args ...any) {
	a := Anomaly{Stage: stage, Message: fmt.Sprintf(format, args...)}
	r.result.Anomalies = append(r.result.Anomalies, a)
	r.log.Warn("firmware stage anomaly", "stage", int(stage), "name", stage.String(), "detail", a.Message)
}

// call absorbs transport failures into anomalies. Only a lost session is returned.
func (r *run) call(ctx context.Context, stage Stage, name string, params map[string]any) (rpc.Response, error) {
	resp, err := r.caller.Call(ctx, name, params)
	if err == nil {
		r.log.Debug("rpc response", "rpc", name, "records", resp.Records)
		return resp, nil
	}
	if errors.IsAuthentication(err) || ctx.Err() != nil {
		return rpc.Response{}, err
	}
	r.anomaly(stage, "%s failed: %v", name, err)
	return rpc.Response{}, nil
}

func (r *run) enterUpdateMode(ctx context.Context) error {
	resp, err := r.caller.Call(ctx, "getenterfwupdatemode", map[string]any{"FWUPMODE": 1})
	if err != nil {
		return errors.Wrap(err, errors.ErrFirmwareUpdate, "cannot enter firmware update mode")
	}
	handle := resp.First().String("HANDLE")
	if handle == "" {
		return errors.New(errors.ErrFirmwareUpdate, "cannot enter firmware update mode: no handle returned")
	}
	r.result.Handle = handle
	r.log.Info("entered firmware update mode", "handle", handle)
	return nil
}

func (r *run) rearmTimer(ctx context.Context) error {
	resp, err := r.call(ctx, StageRearmTimer, "rearmfwupdatetimer", map[string]any{"SESSION_ID": r.result.Handle})
	if err != nil {
		return err
	}
	if got := resp.First().String("NEWSESSIONID"); got != r.result.Handle {
		r.anomaly(StageRearmTimer, "timer rearmed with session %q, expected %q", got, r.result.Handle)
	}
	return nil
}

func (r *run) uploadBundle(ctx context.Context) error {
	field := "bundle?FWUPSessionid=" + r.result.Handle
	name := r.opts.BundleName
	if name == "" {
		name = "bundle.bdl"
	}

	status, err := r.caller.Upload(ctx, UploadPath, field, name, r.opts.Bundle)
	switch {
	case errors.IsAuthentication(err) || ctx.Err() != nil:
		return err
	case err != nil:
		r.anomaly(StageUploadBundle, "upload failed: %v", err)
	case status != http.StatusOK:
		r.anomaly(StageUploadBundle, "upload returned HTTP %d", status)
	default:
		r.log.Info("firmware bundle uploaded", "file", name)
	}
	return nil
}

// expectEmpty runs an RPC whose success is signalled by an empty record list.
func (r *run) expectEmpty(ctx context.Context, stage Stage, name string, params map[string]any) error {
	resp, err := r.call(ctx, stage, name, params)
	if err != nil {
		return err
	}
	if !resp.Empty() {
		r.anomaly(stage, "%s returned %v", name, resp.Records)
	}
	return nil
}

// expectStatusZero runs an RPC that reports a STATUS field. A non-zero status
// does not stop the run, but is reported as an error so the operator inspects
// the BMC before trusting the result.
func (r *run) expectStatusZero(ctx context.Context, stage Stage, name string, params map[string]any) error {
	resp, err := r.call(ctx, stage, name, params)
	if err != nil {
		return err
	}
	status, ok := resp.First().Int("STATUS")
	if ok && status == 0 {
		return nil
	}

	detail := "no status returned"
	if ok {
		detail = fmt.Sprintf("status %d", status)
	}
	r.log.Error(nil, "bundle check did not succeed, continuing; verify the bundle on the BMC",
		"stage", int(stage), "name", stage.String(), "detail", detail)
	r.anomaly(stage, "%s: %s", name, detail)
	return nil
}

func (r *run) detectUpdate(ctx context.Context) (bool, error) {
	resp, err := r.call(ctx, StageDetectUpdate, "getimageinfo", nil)
	if err != nil {
		return false, err
	}

	for _, rec := range resp.Records {
		cur, next := rec.String("CURIMG_VER"), rec.String("NEWIMG_VER")
		if Compare(next, cur) <= 0 {
			continue
		}
		devType, _ := rec.Int("DEV_TYPE")
		slot, _ := rec.Int("SLOT_NO")
		r.result.Component = &Component{
			DevType:    devType,
			Slot:       slot,
			Identifier: rec.String("DEV_IDENTIFIER"),
			Current:    cur,
			New:        next,
		}
		r.log.Info("update available", "component", r.result.Component.String(), "current", cur, "new", next)
		return false, nil
	}

	r.log.Info("no updates available")
	r.result.Component = nil
	r.result.Outcome = OutcomeNoUpdateAvailable
	return true, nil
}

func (r *run) selectComponent(ctx context.Context) error {
	c := r.result.Component
	if c == nil {
		r.log.Warn("no component to update, skipping stage", "stage", int(StageSelectComponent))
		return nil
	}
	return r.expectEmpty(ctx, StageSelectComponent, "setupdatecomp", map[string]any{
		"UPDATE_FLAG":    c.DevType,
		"UPDATE_CNT":     1,
		"FW_DEVICE_TYPE": c.DevType,
		"SLOT_NO":        c.Slot,
		"DEV_IDENTIFIER": c.Identifier,
		"SESSION_ID":     r.result.Handle,
	})
}

// pollProgress queries the update status until the component reaches 100% or
// the deadline, computed once on entry, passes. Dropped connections are
// expected while the BMC flashes and count as progress.
func (r *run) pollProgress(ctx context.Context) error {
	c := r.result.Component
	if c == nil {
		r.log.Warn("no component to watch, skipping stage", "stage", int(StagePollProgress))
		return nil
	}

	sleep := retry.SleepOn(r.clock)
	deadline := r.clock.Now().Add(r.opts.Timeout)
	for r.clock.Now().Before(deadline) {
		resp, err := r.caller.Call(ctx, "getcompupdatestatus", nil)
		switch {
		case err == nil:
			if progress, ok := progressOf(resp, c.Identifier); ok {
				r.log.Info("update progress", "component", c.Identifier, "percent", progress)
				if progress >= 100 {
					r.log.Info("update complete", "component", c.Identifier)
					return nil
				}
			} else {
				r.log.Info("update in progress", "component", c.Identifier)
			}
		case rpc.IsConnectionDropped(err):
			r.log.Info("update in progress, connection dropped by the BMC")
		case errors.IsAuthentication(err) || ctx.Err() != nil:
			return err
		default:
			r.log.Warn("progress query failed", "error", err)
		}

		if err := sleep(ctx, r.opts.PollInterval); err != nil {
			return err
		}
	}

	return errors.WithOp(errors.Newf(errors.ErrTimeout,
		"component %s did not finish updating within %s", c.Identifier, r.opts.Timeout), StagePollProgress.String())
}

func progressOf(resp rpc.Response, identifier string) (int, bool) {
	for _, rec := range resp.Records {
		if rec.String("DEV_IDENTIFIER") == identifier {
			return rec.Int("UPDATE_PERCENTAGE")
		}
	}
	return 0, false
}
