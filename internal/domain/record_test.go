package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElectPrimary(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	t.Run("empty membership", func(t *testing.T) {
		assert.Equal(t, "", ElectPrimary(nil))
	})

	t.Run("earliest published wins", func(t *testing.T) {
		members := []ClusterMember{
			{RecordID: "b", PublishedAt: base.Add(15 * time.Minute)},
			{RecordID: "a", PublishedAt: base},
		}
		assert.Equal(t, "a", ElectPrimary(members))
	})

	t.Run("source priority breaks time ties", func(t *testing.T) {
		members := []ClusterMember{
			{RecordID: "b", PublishedAt: base, SourcePriority: 3},
			{RecordID: "a", PublishedAt: base, SourcePriority: 1},
		}
		assert.Equal(t, "a", ElectPrimary(members))
	})

	t.Run("record id breaks full ties", func(t *testing.T) {
		members := []ClusterMember{
			{RecordID: "zzz", PublishedAt: base, SourcePriority: 1},
			{RecordID: "aaa", PublishedAt: base, SourcePriority: 1},
		}
		assert.Equal(t, "aaa", ElectPrimary(members))
	})

	t.Run("order independent", func(t *testing.T) {
		members := []ClusterMember{
			{RecordID: "c", PublishedAt: base.Add(time.Hour)},
			{RecordID: "a", PublishedAt: base},
			{RecordID: "b", PublishedAt: base.Add(30 * time.Minute)},
		}
		reversed := []ClusterMember{members[2], members[1], members[0]}
		assert.Equal(t, ElectPrimary(members), ElectPrimary(reversed))
	})
}

func TestSourceKindValid(t *testing.T) {
	t.Parallel()

	for _, kind := range []SourceKind{KindNews, KindPolicy, KindMarket, KindIndustry} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, SourceKind("blog").Valid())
	assert.False(t, SourceKind("").Valid())
}

func TestClusterContains(t *testing.T) {
	t.Parallel()

	cluster := DuplicateCluster{
		ID:      "c1",
		Members: []ClusterMember{{RecordID: "r1"}, {RecordID: "r2"}},
	}
	assert.True(t, cluster.Contains("r1"))
	assert.False(t, cluster.Contains("r3"))
}
