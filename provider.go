package snapkeeper

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/sts"
)

// SnapshotStatus is the provider-side state of a snapshot.
type SnapshotStatus string

const (
	StatusPending   SnapshotStatus = "pending"
	StatusCompleted SnapshotStatus = "completed"
	StatusError     SnapshotStatus = "error"
)

// Attachment records where a volume is currently mounted.
type Attachment struct {
	InstanceID string
	Device     string
}

// Volume is a read-only view of a block storage volume at the time it
// was described. Tags may change out-of-band after that; we don't care.
type Volume struct {
	ID         string
	Attachment *Attachment
	Tags       map[string]string
}

// BlockDevice is one entry of an instance's device to volume mapping.
type BlockDevice struct {
	Device   string
	VolumeID string
}

// Instance holds the device mapping of a compute instance. Devices keeps
// the provider's mapping order because instance-wide backups walk it in
// that order.
type Instance struct {
	ID      string
	Devices []BlockDevice
}

// Snapshot is the handle returned when a backup is started. Status is
// whatever the provider reported at creation time, typically pending.
type Snapshot struct {
	ID          string
	VolumeID    string
	Description string
	Status      SnapshotStatus
}

// Provider is a narrow interface over the cloud control-plane calls this
// package needs. Keep it small so it stays mockable; FakeProvider is the
// in-memory implementation used by the tests.
type Provider interface {
	// AccountID returns the account number of the current credentials.
	AccountID() (string, error)

	// DescribeInstance fetches an instance and its device mapping.
	DescribeInstance(id string) (*Instance, error)

	// DescribeVolume fetches a volume with its attachment and tags.
	DescribeVolume(id string) (*Volume, error)

	// CreateSnapshot starts a snapshot of the given volume and returns
	// before the data transfer completes. Not idempotent.
	CreateSnapshot(volumeID, description string) (*Snapshot, error)

	// SetTag writes a single tag on a resource. Each key is a separate
	// remote call.
	SetTag(resourceID, key, value string) error

	// SnapshotStatus re-fetches the current status of a snapshot.
	SnapshotStatus(id string) (SnapshotStatus, error)
}

// NotFoundError means the requested resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

// NoSuchDeviceError means the instance exists but has no volume attached
// at the requested device path. This is the normal "nothing to back up
// there" outcome, reported to the caller rather than swallowed.
type NoSuchDeviceError struct {
	InstanceID string
	Device     string
}

func (e *NoSuchDeviceError) Error() string {
	return fmt.Sprintf("no volume attached to device %s on instance %s", e.Device, e.InstanceID)
}

// ProviderError is any transport, auth, throttling, or quota failure
// reported by the control plane.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// PartialTagError reports tag writes that failed after the snapshot was
// already created. The snapshot is kept; callers log this and move on.
type PartialTagError struct {
	SnapshotID string
	FailedKeys []string
}

func (e *PartialTagError) Error() string {
	return fmt.Sprintf("snapshot %s: %d tag write(s) failed", e.SnapshotID, len(e.FailedKeys))
}

// awsProvider implements Provider against EC2 using an ambient session
// for credentials. Service clients are built per call from the session.
type awsProvider struct {
	session *session.Session
}

// NewAWSProvider returns a Provider backed by the given AWS session. The
// session carries region and credentials; environment-based credential
// lookup is just one way to build it.
func NewAWSProvider(sess *session.Session) Provider {
	return &awsProvider{session: sess}
}

func (p *awsProvider) AccountID() (acct string, err error) {
	svc := sts.New(p.session)
	gci, err := svc.GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		return acct, wrapAWSError(err)
	}
	acct = *gci.Account
	return acct, err
}

func (p *awsProvider) DescribeInstance(id string) (inst *Instance, err error) {
	svc := ec2.New(p.session)
	input := ec2.DescribeInstancesInput{
		InstanceIds: []*string{&id},
	}
	results, err := svc.DescribeInstances(&input)
	if err != nil {
		return inst, notFoundOrProvider(err, "instance", id)
	}
	for _, res := range results.Reservations {
		for _, i := range res.Instances {
			inst = &Instance{ID: *i.InstanceId}
			for _, bdm := range i.BlockDeviceMappings {
				if bdm.Ebs == nil || bdm.Ebs.VolumeId == nil {
					continue
				}
				inst.Devices = append(inst.Devices, BlockDevice{
					Device:   *bdm.DeviceName,
					VolumeID: *bdm.Ebs.VolumeId,
				})
			}
			return inst, err
		}
	}
	return inst, &NotFoundError{Resource: "instance", ID: id}
}

func (p *awsProvider) DescribeVolume(id string) (vol *Volume, err error) {
	svc := ec2.New(p.session)
	input := ec2.DescribeVolumesInput{
		VolumeIds: []*string{&id},
	}
	results, err := svc.DescribeVolumes(&input)
	if err != nil {
		return vol, notFoundOrProvider(err, "volume", id)
	}
	for _, v := range results.Volumes {
		vol = &Volume{
			ID:   *v.VolumeId,
			Tags: map[string]string{},
		}
		for _, att := range v.Attachments {
			if att.InstanceId != nil && att.Device != nil {
				vol.Attachment = &Attachment{
					InstanceID: *att.InstanceId,
					Device:     *att.Device,
				}
				break
			}
		}
		for _, tag := range v.Tags {
			vol.Tags[*tag.Key] = *tag.Value
		}
		return vol, err
	}
	return vol, &NotFoundError{Resource: "volume", ID: id}
}

func (p *awsProvider) CreateSnapshot(volumeID, description string) (snap *Snapshot, err error) {
	svc := ec2.New(p.session)
	input := ec2.CreateSnapshotInput{
		VolumeId:    &volumeID,
		Description: &description,
	}
	result, err := svc.CreateSnapshot(&input)
	if err != nil {
		return snap, wrapAWSError(err)
	}
	snap = &Snapshot{
		ID:          *result.SnapshotId,
		VolumeID:    volumeID,
		Description: description,
		Status:      StatusPending,
	}
	if result.State != nil {
		snap.Status = SnapshotStatus(*result.State)
	}
	return snap, err
}

func (p *awsProvider) SetTag(resourceID, key, value string) (err error) {
	svc := ec2.New(p.session)
	input := ec2.CreateTagsInput{
		Resources: []*string{&resourceID},
		Tags: []*ec2.Tag{
			{Key: &key, Value: &value},
		},
	}
	_, err = svc.CreateTags(&input)
	if err != nil {
		return wrapAWSError(err)
	}
	return err
}

func (p *awsProvider) SnapshotStatus(id string) (status SnapshotStatus, err error) {
	svc := ec2.New(p.session)
	input := ec2.DescribeSnapshotsInput{
		SnapshotIds: []*string{&id},
	}
	results, err := svc.DescribeSnapshots(&input)
	if err != nil {
		return status, notFoundOrProvider(err, "snapshot", id)
	}
	for _, s := range results.Snapshots {
		return SnapshotStatus(*s.State), err
	}
	return status, &NotFoundError{Resource: "snapshot", ID: id}
}

// wrapAWSError normalizes SDK errors into ProviderError so callers never
// see SDK types.
func wrapAWSError(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		return &ProviderError{Code: aerr.Code(), Message: aerr.Message()}
	}
	return &ProviderError{Code: "Unknown", Message: err.Error()}
}

// notFoundOrProvider maps the EC2 "*.NotFound" error family onto
// NotFoundError and everything else onto ProviderError.
func notFoundOrProvider(err error, resource, id string) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "InvalidVolume.NotFound", "InvalidInstanceID.NotFound", "InvalidSnapshot.NotFound":
			return &NotFoundError{Resource: resource, ID: id}
		}
	}
	return wrapAWSError(err)
}
