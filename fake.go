package snapkeeper

import "fmt"

// TagWrite records one SetTag call in the order it happened.
type TagWrite struct {
	ResourceID string
	Key        string
	Value      string
}

// FakeProvider is an in-memory Provider implementation for unit tests.
// Fixtures go in the exported maps; failures are injected per volume or
// per tag key; snapshot status transitions are scripted per snapshot.
type FakeProvider struct {
	Account      string
	InstancesMap map[string]*Instance
	VolumesMap   map[string]*Volume
	SnapshotsMap map[string]*Snapshot

	// TagsMap holds the final tag set per resource; one value per key.
	TagsMap map[string]map[string]string

	// TagWrites records every SetTag call in order.
	TagWrites []TagWrite

	// StatusSequences scripts successive SnapshotStatus results per
	// snapshot id. The last element repeats once the script runs out;
	// snapshots without a script report completed.
	StatusSequences map[string][]SnapshotStatus

	// StatusFetches counts SnapshotStatus calls per snapshot id.
	StatusFetches map[string]int

	// CreateErrs fails CreateSnapshot for the given volume id.
	CreateErrs map[string]error

	// SetTagErrs fails SetTag for the given tag key.
	SetTagErrs map[string]error

	nextSnap int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Account:         "123456789012",
		InstancesMap:    map[string]*Instance{},
		VolumesMap:      map[string]*Volume{},
		SnapshotsMap:    map[string]*Snapshot{},
		TagsMap:         map[string]map[string]string{},
		StatusSequences: map[string][]SnapshotStatus{},
		StatusFetches:   map[string]int{},
		CreateErrs:      map[string]error{},
		SetTagErrs:      map[string]error{},
	}
}

// AddAttachedVolume registers a volume and appends it to the instance's
// device mapping, creating the instance entry on first use.
func (f *FakeProvider) AddAttachedVolume(instanceID, device string, vol *Volume) {
	vol.Attachment = &Attachment{InstanceID: instanceID, Device: device}
	f.VolumesMap[vol.ID] = vol
	inst, ok := f.InstancesMap[instanceID]
	if !ok {
		inst = &Instance{ID: instanceID}
		f.InstancesMap[instanceID] = inst
	}
	inst.Devices = append(inst.Devices, BlockDevice{Device: device, VolumeID: vol.ID})
}

func (f *FakeProvider) AccountID() (string, error) {
	return f.Account, nil
}

func (f *FakeProvider) DescribeInstance(id string) (*Instance, error) {
	inst, ok := f.InstancesMap[id]
	if !ok {
		return nil, &NotFoundError{Resource: "instance", ID: id}
	}
	return inst, nil
}

func (f *FakeProvider) DescribeVolume(id string) (*Volume, error) {
	vol, ok := f.VolumesMap[id]
	if !ok {
		return nil, &NotFoundError{Resource: "volume", ID: id}
	}
	return vol, nil
}

func (f *FakeProvider) CreateSnapshot(volumeID, description string) (*Snapshot, error) {
	if err, ok := f.CreateErrs[volumeID]; ok {
		return nil, err
	}
	f.nextSnap++
	snap := &Snapshot{
		ID:          fmt.Sprintf("snap-%04d", f.nextSnap),
		VolumeID:    volumeID,
		Description: description,
		Status:      StatusPending,
	}
	f.SnapshotsMap[snap.ID] = snap
	return snap, nil
}

func (f *FakeProvider) SetTag(resourceID, key, value string) error {
	if err, ok := f.SetTagErrs[key]; ok {
		return err
	}
	tags, ok := f.TagsMap[resourceID]
	if !ok {
		tags = map[string]string{}
		f.TagsMap[resourceID] = tags
	}
	tags[key] = value
	f.TagWrites = append(f.TagWrites, TagWrite{ResourceID: resourceID, Key: key, Value: value})
	return nil
}

func (f *FakeProvider) SnapshotStatus(id string) (SnapshotStatus, error) {
	f.StatusFetches[id]++
	seq, ok := f.StatusSequences[id]
	if ok && len(seq) > 0 {
		status := seq[0]
		if len(seq) > 1 {
			f.StatusSequences[id] = seq[1:]
		}
		return status, nil
	}
	if _, ok := f.SnapshotsMap[id]; !ok {
		return "", &NotFoundError{Resource: "snapshot", ID: id}
	}
	return StatusCompleted, nil
}
