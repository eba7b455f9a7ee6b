package snapkeeper

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultRootDevice is the platform's default boot volume slot.
	// Instance-wide runs skip whatever is attached there.
	DefaultRootDevice = "/dev/sda1"

	// UnattachedMarker is the device label used for volumes that are not
	// currently attached anywhere.
	UnattachedMarker = "Unattached"

	// RetainMarker is the opaque value written under the expires tag when
	// a backup should be kept. The companion cleanup job owns its meaning.
	RetainMarker = "never"

	deviceTagKey      = "Backup:Device"
	expiresTagKey     = "Backup:Expires"
	backupTagPrefix   = "Backup:"
	reservedTagPrefix = "aws:"
)

// backupMeta is the derived labeling for one volume's backup.
type backupMeta struct {
	name        string
	volumeID    string
	device      string
	description string
}

// deriveMetadata computes the device label and snapshot description for
// a volume. Pure; valid for any volume.
func deriveMetadata(name string, vol *Volume) backupMeta {
	device := UnattachedMarker
	if vol.Attachment != nil {
		device = vol.Attachment.Device
	}
	return backupMeta{
		name:        name,
		volumeID:    vol.ID,
		device:      device,
		description: fmt.Sprintf("%s-snap-%s-%s", name, vol.ID, device),
	}
}

// Tag is one key/value pair destined for a snapshot.
type Tag struct {
	Key   string
	Value string
}

// tagPlan builds the ordered list of tags to write on a snapshot: the
// device tag, the retain marker when keep is set, then the source
// volume's tags in sorted key order. Keys in the provider's reserved
// namespace are remapped under the Backup: prefix because snapshots
// reject them verbatim.
func tagPlan(vol *Volume, device string, keep bool) []Tag {
	plan := []Tag{{Key: deviceTagKey, Value: device}}
	if keep {
		plan = append(plan, Tag{Key: expiresTagKey, Value: RetainMarker})
	}
	keys := make([]string, 0, len(vol.Tags))
	for key := range vol.Tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if key == deviceTagKey || key == expiresTagKey {
			// this run owns the derived schema keys; a stray copy on the
			// source volume must not overwrite them or resurrect a retain
			// marker the caller never asked for
			continue
		}
		outKey := key
		if strings.HasPrefix(key, reservedTagPrefix) {
			outKey = backupTagPrefix + key
		}
		plan = append(plan, Tag{Key: outKey, Value: vol.Tags[key]})
	}
	return plan
}
