package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
)

func TestNormalizeBeaconID(t *testing.T) {
	canonical := "f7826da6-4fa2-4e98-8024-bc5b71e0893e"
	cases := map[string]string{
		"F7826DA6-4FA2-4E98-8024-BC5B71E0893E":          canonical,
		"f7826da64fa24e988024bc5b71e0893e":              canonical,
		"{f7826da6-4fa2-4e98-8024-bc5b71e0893e}":        canonical,
		"urn:uuid:f7826da6-4fa2-4e98-8024-bc5b71e0893e": canonical,
		"  " + canonical + " ":                          canonical,
		"AA:BB:CC:DD:EE:FF":                             "aabbccddeeff",
		"Tag_0042":                                      "tag0042",
		"":                                              "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeBeaconID(raw), raw)
	}
}

func matcherStudents() []models.Student {
	return []models.Student{
		{ID: "a", BeaconID: strPtr("AA:BB:CC:00:00:01")},
		{ID: "b", BeaconID: strPtr("aabbcc000002")},
		{ID: "c", BeaconID: strPtr("aa-bb-cc-00-00-01")},
		{ID: "d"},
	}
}

func TestIdentityMatcherBuildIndexFirstOwnerWins(t *testing.T) {
	m := NewIdentityMatcher(0, nil)
	index := m.BuildIndex(matcherStudents())

	assert.Len(t, index, 2)
	assert.Equal(t, "a", index["aabbcc000001"])
	assert.Equal(t, "b", index["aabbcc000002"])
	assert.ElementsMatch(t, []string{"aabbcc000001", "aabbcc000002"}, m.FilterIDs())
}

func TestIdentityMatcherDebounceWindow(t *testing.T) {
	m := NewIdentityMatcher(2*time.Second, nil)
	m.BuildIndex(matcherStudents())
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	id, outcome := m.Match(beacon.Detection{BeaconID: "AABBCC000001", Timestamp: base})
	assert.Equal(t, MatchAccepted, outcome)
	assert.Equal(t, "a", id)

	_, outcome = m.Match(beacon.Detection{BeaconID: "aabbcc000001", Timestamp: base.Add(500 * time.Millisecond)})
	assert.Equal(t, MatchDuplicate, outcome)

	// A rejected event does not extend the window.
	_, outcome = m.Match(beacon.Detection{BeaconID: "aabbcc000001", Timestamp: base.Add(2 * time.Second)})
	assert.Equal(t, MatchAccepted, outcome)

	_, outcome = m.Match(beacon.Detection{BeaconID: "ffffff", Timestamp: base})
	assert.Equal(t, MatchUnmatched, outcome)
}

func TestIdentityMatcherSingleFirePerSession(t *testing.T) {
	m := NewIdentityMatcher(0, nil)
	m.BuildIndex(matcherStudents())
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	_, outcome := m.Match(beacon.Detection{BeaconID: "aabbcc000002", Timestamp: base})
	assert.Equal(t, MatchAccepted, outcome)
	_, outcome = m.Match(beacon.Detection{BeaconID: "aabbcc000002", Timestamp: base.Add(time.Hour)})
	assert.Equal(t, MatchDuplicate, outcome)

	m.BuildIndex(matcherStudents())
	_, outcome = m.Match(beacon.Detection{BeaconID: "aabbcc000002", Timestamp: base.Add(2 * time.Hour)})
	assert.Equal(t, MatchDuplicate, outcome)

	m.Reset()
	_, outcome = m.Match(beacon.Detection{BeaconID: "aabbcc000002", Timestamp: base.Add(3 * time.Hour)})
	assert.Equal(t, MatchAccepted, outcome)
}
