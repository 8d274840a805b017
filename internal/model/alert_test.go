package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotice(details ...string) Notice {
	n := NewNotice("S1", NoticePriorityImportant, "Queue backlog", details)
	n.HostName = "H1"
	n.HostAddress = "10.0.0.1"
	return n
}

func TestNewNotice(t *testing.T) {
	n := NewNotice("S1", NoticePriorityCritical, "Disk full", []string{"b", "a", "b"})

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Timestamp.IsZero())
	assert.Equal(t, []string{"a", "b"}, n.Details)
	assert.Equal(t, DedupKey{Source: "S1"}, n.Key())

	other := NewNotice("S1", NoticePriorityCritical, "Disk full", nil)
	assert.NotEqual(t, n.ID, other.ID)
	assert.NotNil(t, other.Details)
}

func TestNoticePriority_String(t *testing.T) {
	assert.Equal(t, "low", NoticePriorityLow.String())
	assert.Equal(t, "normal", NoticePriorityNormal.String())
	assert.Equal(t, "important", NoticePriorityImportant.String())
	assert.Equal(t, "critical", NoticePriorityCritical.String())
	assert.Equal(t, "unknown", NoticePriority(9).String())
}

func TestNewAlertFromNotice(t *testing.T) {
	n := testNotice("d1")
	a := NewAlertFromNotice(n)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, n.ID, a.ID)
	assert.NotEqual(t, a.ID, NewAlertFromNotice(n).ID, "every promotion gets its own id")
	assert.Equal(t, n.Key(), a.Key())
	assert.Equal(t, "10.0.0.1", a.HostAddress)
	assert.Equal(t, NoticePriorityImportant, a.Priority)
	assert.Equal(t, int64(1), a.Count)
	assert.Equal(t, n.Timestamp, a.LastUpdated)
	assert.True(t, a.IsActive())
	assert.Nil(t, a.DismissedTime)
	assert.Empty(t, a.DismissedBy)
}

func TestAlert_Squash(t *testing.T) {
	a := NewAlertFromNotice(testNotice("d1", "d2"))

	later := testNotice("d3")
	later.Timestamp = a.LastUpdated.Add(time.Minute)
	a.Squash(later)

	assert.Equal(t, int64(2), a.Count)
	assert.Equal(t, later.Timestamp, a.LastUpdated)
	assert.Equal(t, []string{"d3"}, a.Details)
	assert.NotEqual(t, later.ID, a.ID)
}

func TestAlert_Dismiss(t *testing.T) {
	a := NewAlertFromNotice(testNotice())
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.Dismiss("bob", at))
	assert.Equal(t, AlertStatusDismissed, a.Status)
	assert.Equal(t, "bob", a.DismissedBy)
	require.NotNil(t, a.DismissedTime)
	assert.Equal(t, at, *a.DismissedTime)

	err := a.Dismiss("alice", at.Add(time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyDismissed)
	assert.Equal(t, "bob", a.DismissedBy)
	assert.Equal(t, at, *a.DismissedTime)
}

func TestAlert_Snapshot(t *testing.T) {
	a := NewAlertFromNotice(testNotice("d1"))
	require.NoError(t, a.Dismiss("bob", time.Now()))

	snap := a.Snapshot()
	a.Details[0] = "changed"
	*a.DismissedTime = time.Time{}

	assert.Equal(t, []string{"d1"}, snap.Details)
	assert.False(t, snap.DismissedTime.IsZero())
}

func TestAlert_JSON(t *testing.T) {
	a := NewAlertFromNotice(testNotice("d1"))

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "source", "hostName", "hostAddress", "priority", "title", "details", "timestamp", "status", "count", "lastUpdated"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "dismissedTime")
	assert.NotContains(t, fields, "dismissedBy")
	assert.Equal(t, "active", fields["status"])
}

func TestNewDigest(t *testing.T) {
	a := NewAlertFromNotice(testNotice("d1"))
	at := time.Now()

	d := NewDigest(at, a)
	a.Squash(testNotice("d2"))

	require.Len(t, d.Alerts, 1)
	assert.Equal(t, at, d.Timestamp)
	assert.Equal(t, int64(1), d.Alerts[0].Count)
	assert.Equal(t, []string{"d1"}, d.Alerts[0].Details)

	empty := NewDigest(at)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"alerts":[]`)
}
