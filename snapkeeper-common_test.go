package snapkeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMetadataAttachedVolume(t *testing.T) {
	vol := &Volume{
		ID:         "vol-data",
		Attachment: &Attachment{InstanceID: "i-1223456", Device: "/dev/sdf"},
	}
	meta := deriveMetadata("host1", vol)
	assert.Equal(t, "host1", meta.name)
	assert.Equal(t, "vol-data", meta.volumeID)
	assert.Equal(t, "/dev/sdf", meta.device)
	assert.Equal(t, "host1-snap-vol-data-/dev/sdf", meta.description)
}

func TestDeriveMetadataUnattachedVolume(t *testing.T) {
	vol := &Volume{ID: "vol-loose"}
	meta := deriveMetadata("host1", vol)
	assert.Equal(t, UnattachedMarker, meta.device)
	assert.Equal(t, "host1-snap-vol-loose-Unattached", meta.description)
}

func TestTagPlanMirrorsReservedKeys(t *testing.T) {
	vol := &Volume{
		ID: "vol-data",
		Tags: map[string]string{
			"Name":                      "db",
			"aws:autoscaling:groupName": "asg1",
		},
	}
	plan := tagPlan(vol, "/dev/sdf", false)
	require.Len(t, plan, 3)
	assert.Equal(t, Tag{Key: "Backup:Device", Value: "/dev/sdf"}, plan[0])
	assert.Equal(t, Tag{Key: "Name", Value: "db"}, plan[1])
	assert.Equal(t, Tag{Key: "Backup:aws:autoscaling:groupName", Value: "asg1"}, plan[2])
	for _, tag := range plan {
		assert.NotEqual(t, "aws:autoscaling:groupName", tag.Key,
			"reserved keys must never be copied verbatim")
	}
}

func TestTagPlanSourceTagsNeverOverrideDerivedKeys(t *testing.T) {
	vol := &Volume{
		ID: "vol-data",
		Tags: map[string]string{
			"Backup:Device":  "/dev/stale",
			"Backup:Expires": "1970-01-01",
			"Name":           "db",
		},
	}

	plan := tagPlan(vol, "/dev/sdf", false)
	require.Len(t, plan, 2)
	assert.Equal(t, Tag{Key: "Backup:Device", Value: "/dev/sdf"}, plan[0])
	assert.Equal(t, Tag{Key: "Name", Value: "db"}, plan[1])
	for _, tag := range plan {
		assert.NotEqual(t, "Backup:Expires", tag.Key,
			"a stray source tag must not resurrect the retain marker")
	}

	plan = tagPlan(vol, "/dev/sdf", true)
	for _, tag := range plan {
		if tag.Key == "Backup:Expires" {
			assert.Equal(t, RetainMarker, tag.Value)
		}
	}
}

func TestTagPlanKeepControlsExpiresTag(t *testing.T) {
	vol := &Volume{ID: "vol-data"}

	plan := tagPlan(vol, "/dev/sdf", false)
	for _, tag := range plan {
		assert.NotEqual(t, "Backup:Expires", tag.Key)
	}

	plan = tagPlan(vol, "/dev/sdf", true)
	var expires []Tag
	for _, tag := range plan {
		if tag.Key == "Backup:Expires" {
			expires = append(expires, tag)
		}
	}
	require.Len(t, expires, 1)
	assert.Equal(t, RetainMarker, expires[0].Value)
}
