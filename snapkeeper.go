package snapkeeper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"
)

// SelectionMode says how the backup target was specified.
type SelectionMode int

const (
	// ModeVolume backs up a single volume by id.
	ModeVolume SelectionMode = iota + 1

	// ModeDevice backs up the volume attached at one device path of an
	// instance.
	ModeDevice

	// ModeInstance backs up every non-root volume of an instance.
	ModeInstance
)

// Selection is the parsed backup target. Exactly one mode is active per
// run; use the By* constructors.
type Selection struct {
	Mode       SelectionMode
	VolumeID   string
	InstanceID string
	Device     string
}

// ByVolume selects a single volume by id.
func ByVolume(volumeID string) Selection {
	return Selection{Mode: ModeVolume, VolumeID: volumeID}
}

// ByDevice selects whatever volume is attached at the given device path
// of an instance.
func ByDevice(instanceID, device string) Selection {
	return Selection{Mode: ModeDevice, InstanceID: instanceID, Device: device}
}

// ByInstance selects all non-root volumes attached to an instance.
func ByInstance(instanceID string) Selection {
	return Selection{Mode: ModeInstance, InstanceID: instanceID}
}

func (s Selection) validate() error {
	switch s.Mode {
	case ModeVolume:
		if s.VolumeID == "" {
			return errors.New("volume selection requires a volume id")
		}
	case ModeDevice:
		if s.InstanceID == "" || s.Device == "" {
			return errors.New("device selection requires an instance id and a device path")
		}
	case ModeInstance:
		if s.InstanceID == "" {
			return errors.New("instance selection requires an instance id")
		}
	default:
		return errors.New("a backup target selection is required")
	}
	return nil
}

// Result is the outcome of one volume's backup attempt.
type Result struct {
	VolumeID    string
	SnapshotID  string
	Device      string
	Description string
	Err         error
}

// ErrWaitAttemptsExceeded is returned when a configured attempt budget
// runs out before the snapshot completes.
var ErrWaitAttemptsExceeded = errors.New("snapshot did not complete within the attempt budget")

// A Run contains the properties and methods necessary to back up a set
// of volumes as tagged snapshots. Create a RunInput object and pass it
// to this package's New method to get a new Run, then call its Start
// method. Per-volume outcomes land in Results.
type Run struct {
	// Results holds one entry per volume the run attempted, in the
	// order they were processed. Populated by Start; exported so it
	// can be marshalled to another format if the ExportResults CSV
	// format is not ideal.
	Results []Result

	selection       Selection
	provider        Provider
	name            string
	keep            bool
	wait            bool
	abortOnError    bool
	pollInterval    time.Duration
	maxWaitAttempts int
	rootDevice      string
	outfileManifest string
	log             log15.Logger
	sleep           func(time.Duration)
}

// RunInput provides configuration inputs for starting a new backup Run.
type RunInput struct {
	// Selection is the backup target. Use ByVolume, ByDevice, or
	// ByInstance to build it.
	//
	// Selection is a required field
	Selection Selection

	// Provider is the control-plane client the run talks to. Pass a
	// FakeProvider in tests, or NewAWSProvider(sess) for the real thing.
	//
	// Provider is a required field
	Provider Provider

	// Name labels the snapshots this run creates; it becomes part of
	// each snapshot description.
	// Default: the local hostname
	Name *string

	// Keep marks each snapshot with the retain tag so the downstream
	// cleanup process preserves it.
	// Default: false
	Keep *bool

	// Wait blocks after each snapshot until the provider reports it
	// completed.
	// Default: false
	Wait *bool

	// AbortOnFirstError stops the run at the first volume that fails.
	// When false each volume is attempted and failures are collected
	// in Results.
	// Default: true
	AbortOnFirstError *bool

	// PollInterval is the sleep between snapshot status polls while
	// waiting.
	// Default: 1s
	PollInterval *time.Duration

	// MaxWaitAttempts bounds the number of status polls per snapshot.
	// Zero means poll until completed, however long that takes.
	// Default: 0
	MaxWaitAttempts *int

	// RootDevice is the boot volume device path skipped by
	// instance-wide runs. Some images attach their root volume at
	// /dev/xvda instead of the usual slot.
	// Default: DefaultRootDevice
	RootDevice *string

	// If the ExportResults method is called on the returned Run it
	// will write the per-volume outcomes to the OutfileManifest
	// filename in csv format.
	// Default: "out-manifest.csv"
	OutfileManifest *string

	// Run uses log15 (https://github.com/inconshreveable/log15)
	// as an opinionated logging framework. A Logger must be provided.
	Logger *log15.Logger
}

// New returns a Run object whose Start method performs the backup. This
// method accepts a RunInput struct and sets defaults for any property
// that was not specified.
func New(input *RunInput) (run *Run, err error) {
	var r Run

	if err = input.Selection.validate(); err != nil {
		return &r, err
	}
	r.selection = input.Selection

	if input.Provider == nil {
		err = errors.New("Provider is required")
		return &r, err
	}
	r.provider = input.Provider

	if input.Name == nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "snapkeeper"
		}
		input.Name = &hostname
	}
	r.name = *input.Name

	if input.Keep != nil {
		r.keep = *input.Keep
	}
	if input.Wait != nil {
		r.wait = *input.Wait
	}

	DefaultAbortOnFirstError := true
	if input.AbortOnFirstError == nil {
		input.AbortOnFirstError = &DefaultAbortOnFirstError
	}
	r.abortOnError = *input.AbortOnFirstError

	DefaultPollInterval := time.Second
	if input.PollInterval == nil {
		input.PollInterval = &DefaultPollInterval
	}
	r.pollInterval = *input.PollInterval

	if input.MaxWaitAttempts != nil {
		r.maxWaitAttempts = *input.MaxWaitAttempts
	}

	DefaultRoot := DefaultRootDevice
	if input.RootDevice == nil {
		input.RootDevice = &DefaultRoot
	}
	r.rootDevice = *input.RootDevice

	DefaultOutfileManifest := "out-manifest.csv"
	if input.OutfileManifest == nil {
		input.OutfileManifest = &DefaultOutfileManifest
	}
	r.outfileManifest = *input.OutfileManifest

	if input.Logger == nil {
		err = errors.New("log15 logger is required")
		return &r, err
	}
	r.log = *input.Logger

	r.sleep = time.Sleep
	return &r, err
}

// Start resolves the target selection to volumes and backs each one up
// in turn: derive labels, create the snapshot, tag it, and optionally
// wait for completion. Volumes are processed sequentially; see
// RunInput.AbortOnFirstError for what happens when one fails.
func (r *Run) Start() (err error) {
	acct, err := r.provider.AccountID()
	if err != nil {
		// provenance only, the run can proceed without it
		r.log.Debug("could not determine account number", "error", err.Error())
		err = nil
	} else {
		r.log.Info("starting backup run", "account", acct, "name", r.name)
	}

	vols, err := r.resolve()
	if err != nil {
		r.log.Error("could not resolve backup target", "error", err.Error())
		return err
	}
	if len(vols) == 0 {
		r.log.Info("no volumes to back up", "instance", r.selection.InstanceID)
		return err
	}

	failed := 0
	for _, vol := range vols {
		res := r.backupVolume(vol)
		r.Results = append(r.Results, res)
		if res.Err == nil {
			continue
		}
		if r.abortOnError {
			return res.Err
		}
		failed++
		r.log.Error("volume backup failed", "volume", vol.ID, "error", res.Err.Error())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d volume backups failed", failed, len(vols))
	}
	return err
}

// resolve turns the run's Selection into the concrete set of volumes to
// back up.
func (r *Run) resolve() (vols []*Volume, err error) {
	switch r.selection.Mode {
	case ModeVolume:
		vol, err := r.provider.DescribeVolume(r.selection.VolumeID)
		if err != nil {
			return vols, err
		}
		return []*Volume{vol}, nil
	case ModeDevice:
		inst, err := r.provider.DescribeInstance(r.selection.InstanceID)
		if err != nil {
			return vols, err
		}
		for _, bd := range inst.Devices {
			if bd.Device != r.selection.Device {
				continue
			}
			vol, err := r.provider.DescribeVolume(bd.VolumeID)
			if err != nil {
				return vols, err
			}
			return []*Volume{vol}, nil
		}
		return vols, &NoSuchDeviceError{
			InstanceID: r.selection.InstanceID,
			Device:     r.selection.Device,
		}
	case ModeInstance:
		inst, err := r.provider.DescribeInstance(r.selection.InstanceID)
		if err != nil {
			return vols, err
		}
		for _, bd := range inst.Devices {
			if bd.Device == r.rootDevice {
				// root volume backups are deliberately excluded
				r.log.Debug("skipping root device", "device", bd.Device, "volume", bd.VolumeID)
				continue
			}
			vol, err := r.provider.DescribeVolume(bd.VolumeID)
			if err != nil {
				return vols, err
			}
			vols = append(vols, vol)
		}
		return vols, nil
	}
	return vols, fmt.Errorf("unknown selection mode %d", r.selection.Mode)
}

// backupVolume runs the full pipeline for one volume. Tagging failures
// are warnings; everything else fails the volume.
func (r *Run) backupVolume(vol *Volume) (res Result) {
	meta := deriveMetadata(r.name, vol)
	res.VolumeID = vol.ID
	res.Device = meta.device
	res.Description = meta.description

	r.log.Info("creating snapshot", "volume", vol.ID, "description", meta.description)
	snap, err := r.provider.CreateSnapshot(vol.ID, meta.description)
	if err != nil {
		res.Err = fmt.Errorf("create snapshot of %s: %w", vol.ID, err)
		return res
	}
	res.SnapshotID = snap.ID
	r.log.Info("snapshot started", "snapshot", snap.ID, "status", string(snap.Status))

	if err = r.tagBackup(snap.ID, vol, meta.device); err != nil {
		// the snapshot already exists; under-tagged beats deleted
		r.log.Warn("snapshot tagged partially", "snapshot", snap.ID, "error", err.Error())
	}

	if r.wait {
		if err = r.waitForSnapshot(snap.ID); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// tagBackup writes the snapshot's tag set one key at a time. Failed keys
// are collected into a PartialTagError; the remaining keys are still
// attempted.
func (r *Run) tagBackup(snapshotID string, vol *Volume, device string) (err error) {
	var failedKeys []string
	for _, tag := range tagPlan(vol, device, r.keep) {
		if terr := r.provider.SetTag(snapshotID, tag.Key, tag.Value); terr != nil {
			r.log.Warn("tag write failed", "snapshot", snapshotID, "key", tag.Key, "error", terr.Error())
			failedKeys = append(failedKeys, tag.Key)
			continue
		}
		r.log.Debug("tagged snapshot", "snapshot", snapshotID, "key", tag.Key, "value", tag.Value)
	}
	if len(failedKeys) > 0 {
		return &PartialTagError{SnapshotID: snapshotID, FailedKeys: failedKeys}
	}
	return err
}

// waitForSnapshot polls the snapshot status until the provider reports
// completed. Only the completed status ends the wait; an error status
// keeps polling, so a configured MaxWaitAttempts is the only way out of
// a snapshot that will never finish.
func (r *Run) waitForSnapshot(id string) (err error) {
	attempts := 0
	for {
		status, err := r.provider.SnapshotStatus(id)
		if err != nil {
			return fmt.Errorf("poll snapshot %s: %w", id, err)
		}
		attempts++
		if status == StatusCompleted {
			r.log.Info("snapshot completed", "snapshot", id, "polls", attempts)
			return nil
		}
		if r.maxWaitAttempts > 0 && attempts >= r.maxWaitAttempts {
			return fmt.Errorf("snapshot %s: %w", id, ErrWaitAttemptsExceeded)
		}
		r.log.Debug("snapshot not ready", "snapshot", id, "status", string(status))
		r.sleep(r.pollInterval)
	}
}

// ExportResults takes the per-volume outcomes of the run and writes
// them to the manifest outfile as csv.
func (r *Run) ExportResults() (err error) {
	csvfile, err := os.Create(r.outfileManifest)
	if err != nil {
		return err
	}
	csvwriter := csv.NewWriter(csvfile)
	header := []string{"VolumeId", "SnapshotId", "Device", "Description", "Error"}
	csvwriter.Write(header)
	for _, res := range r.Results {
		row := res.dumpString()
		csvwriter.Write(row)
	}
	csvwriter.Flush()
	csvfile.Close()
	r.log.Info("wrote backup manifest to file", "filename", r.outfileManifest)
	return err
}

// dumpString is a method to export the Result object as a CSV string
func (res *Result) dumpString() (s []string) {
	errStr := ""
	if res.Err != nil {
		errStr = res.Err.Error()
	}
	s = []string{
		res.VolumeID,
		res.SnapshotID,
		res.Device,
		res.Description,
		errStr,
	}
	return s
}
