package statemachine

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Notify(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Type)
	}
	return out
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{RuntimeVersion: "exposdk:49.0.0", Raw: json.RawMessage(`{"runtimeVersion":"exposdk:49.0.0"}`)}
}

func TestTransition_Table(t *testing.T) {
	m := testManifest()

	testCases := []struct {
		name  string
		state State
		ctx   Context
		event Event
		want  State
		check func(t *testing.T, c Context)
	}{
		{"idle check", StateIdle, Context{}, Event{Type: EventCheck}, StateChecking,
			func(t *testing.T, c Context) { assert.True(t, c.IsChecking) }},
		{"idle download", StateIdle, Context{}, Event{Type: EventDownload}, StateDownloading,
			func(t *testing.T, c Context) { assert.True(t, c.IsDownloading) }},
		{"idle restart", StateIdle, Context{}, Event{Type: EventRestart}, StateRestarting, nil},
		{"check available", StateChecking, Context{IsChecking: true, CheckError: &ErrorInfo{Message: "old"}},
			Event{Type: EventCheckCompleteAvailable, Manifest: m}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsChecking)
				assert.True(t, c.IsUpdateAvailable)
				assert.Same(t, m, c.LatestManifest)
				assert.False(t, c.IsRollback)
				assert.Nil(t, c.CheckError)
			}},
		{"check rollback", StateChecking, Context{IsChecking: true},
			Event{Type: EventCheckCompleteAvailable, IsRollBackToEmbedded: true}, StateIdle,
			func(t *testing.T, c Context) {
				assert.True(t, c.IsUpdateAvailable)
				assert.True(t, c.IsRollback)
				assert.Nil(t, c.LatestManifest)
			}},
		{"check unavailable", StateChecking, Context{IsChecking: true, IsUpdateAvailable: true, LatestManifest: m},
			Event{Type: EventCheckCompleteUnavailable}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsUpdateAvailable)
				assert.Nil(t, c.LatestManifest)
			}},
		{"check error", StateChecking, Context{IsChecking: true},
			Event{Type: EventCheckError, Message: "boom"}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsChecking)
				require.NotNil(t, c.CheckError)
				assert.Equal(t, "boom", c.CheckError.Message)
			}},
		{"download complete", StateDownloading, Context{IsDownloading: true},
			Event{Type: EventDownloadComplete, Manifest: m}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsDownloading)
				assert.True(t, c.IsUpdatePending)
				assert.True(t, c.IsUpdateAvailable)
				assert.Same(t, m, c.DownloadedManifest)
			}},
		{"download complete keeps previous manifest", StateDownloading, Context{IsDownloading: true, DownloadedManifest: m},
			Event{Type: EventDownloadComplete}, StateIdle,
			func(t *testing.T, c Context) {
				assert.Same(t, m, c.DownloadedManifest)
				assert.True(t, c.IsUpdatePending)
			}},
		{"download complete rollback without manifest", StateDownloading, Context{IsDownloading: true, IsRollback: true},
			Event{Type: EventDownloadComplete, IsRollBackToEmbedded: true}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsDownloading)
				assert.True(t, c.IsUpdatePending)
				assert.True(t, c.IsUpdateAvailable)
				assert.Nil(t, c.DownloadedManifest)
			}},
		{"download complete without manifest", StateDownloading, Context{IsDownloading: true},
			Event{Type: EventDownloadComplete}, StateIdle,
			func(t *testing.T, c Context) {
				assert.False(t, c.IsUpdatePending)
				assert.False(t, c.IsUpdateAvailable)
			}},
		{"download error", StateDownloading, Context{IsDownloading: true},
			Event{Type: EventDownloadError, Message: "hash mismatch"}, StateIdle,
			func(t *testing.T, c Context) {
				require.NotNil(t, c.DownloadError)
				assert.Equal(t, "hash mismatch", c.DownloadError.Message)
			}},
		{"cancel check", StateChecking, Context{IsChecking: true, IsUpdateAvailable: true, LatestManifest: m},
			Event{Type: EventCancel}, StateIdle,
			func(t *testing.T, c Context) {
				assert.Equal(t, Context{IsUpdateAvailable: true, LatestManifest: m}, c)
			}},
		{"cancel download", StateDownloading, Context{IsDownloading: true},
			Event{Type: EventCancel}, StateIdle,
			func(t *testing.T, c Context) { assert.Equal(t, Context{}, c) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, c, err := Transition(tc.state, tc.ctx, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
			if tc.check != nil {
				tc.check(t, c)
			}
		})
	}
}

func TestTransition_Illegal(t *testing.T) {
	testCases := []struct {
		state State
		event EventType
	}{
		{StateIdle, EventCheckCompleteAvailable},
		{StateIdle, EventCheckError},
		{StateIdle, EventDownloadError},
		{StateIdle, EventCancel},
		{StateChecking, EventCheck},
		{StateChecking, EventDownload},
		{StateDownloading, EventCheck},
		{StateDownloading, EventRestart},
		{StateRestarting, EventCheck},
		{StateRestarting, EventRestart},
	}

	for _, tc := range testCases {
		t.Run(string(tc.state)+"/"+string(tc.event), func(t *testing.T) {
			before := Context{IsChecking: tc.state == StateChecking}
			next, c, err := Transition(tc.state, before, Event{Type: tc.event})
			require.Error(t, err)
			var illegal *IllegalTransitionError
			require.ErrorAs(t, err, &illegal)
			assert.Equal(t, tc.state, illegal.From)
			assert.True(t, errors.IsCode(err, errors.ErrIllegalTransition))
			assert.Equal(t, tc.state, next)
			assert.Equal(t, before, c)
		})
	}
}

func TestMachine_NotifiesInOrder(t *testing.T) {
	rec := &recorder{}
	m := New(rec, zap.NewNop())

	_, err := m.Send(Event{Type: EventCheck})
	require.NoError(t, err)
	_, err = m.Send(Event{Type: EventDownload})
	require.Error(t, err, "检查进行中不能开始下载")

	snap, err := m.Send(Event{Type: EventCheckCompleteAvailable, Manifest: testManifest()})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.IsUpdateAvailable)

	_, err = m.Send(Event{Type: EventDownload})
	require.NoError(t, err)
	_, err = m.Send(Event{Type: EventDownloadComplete, Manifest: testManifest()})
	require.NoError(t, err)
	_, err = m.Send(Event{Type: EventRestart})
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventCheck, EventCheckCompleteAvailable, EventDownload, EventDownloadComplete, EventRestart}, rec.types())
	assert.Equal(t, StateRestarting, m.State())
	assert.True(t, m.Context().IsUpdatePending)
}

func TestSnapshot_JSONShape(t *testing.T) {
	snap := Snapshot{
		Type:    EventCheckCompleteAvailable,
		State:   StateIdle,
		Context: Context{IsUpdateAvailable: true, LatestManifest: testManifest()},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "checkCompleteAvailable", out["type"])
	assert.Equal(t, true, out["isUpdateAvailable"])
	assert.Equal(t, map[string]any{"runtimeVersion": "exposdk:49.0.0"}, out["latestManifest"])
	assert.NotContains(t, out, "checkError")
}
