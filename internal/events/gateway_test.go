package events

import (
	"errors"
	"testing"

	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func snap(t statemachine.EventType) statemachine.Snapshot {
	return statemachine.Snapshot{Type: t}
}

func TestGateway_QueuesUntilAttach(t *testing.T) {
	g := NewGateway(zap.NewNop())
	g.Notify(snap(statemachine.EventCheck))
	g.Notify(snap(statemachine.EventCheckCompleteUnavailable))
	assert.Equal(t, 2, g.Pending())

	var got []statemachine.EventType
	g.Attach(func(s statemachine.Snapshot) error {
		got = append(got, s.Type)
		return nil
	})
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, []statemachine.EventType{statemachine.EventCheck, statemachine.EventCheckCompleteUnavailable}, got)

	g.Notify(snap(statemachine.EventDownload))
	assert.Equal(t, statemachine.EventDownload, got[len(got)-1], "挂载后同步投递")
}

func TestGateway_ObserverFailureDoesNotStopDelivery(t *testing.T) {
	g := NewGateway(zap.NewNop())

	var got []statemachine.EventType
	g.Attach(func(s statemachine.Snapshot) error {
		got = append(got, s.Type)
		switch s.Type {
		case statemachine.EventCheck:
			panic("listener crashed")
		case statemachine.EventCheckError:
			return errors.New("listener rejected")
		}
		return nil
	})

	require.NotPanics(t, func() {
		g.Notify(snap(statemachine.EventCheck))
		g.Notify(snap(statemachine.EventCheckError))
		g.Notify(snap(statemachine.EventDownload))
	})
	assert.Equal(t, []statemachine.EventType{statemachine.EventCheck, statemachine.EventCheckError, statemachine.EventDownload}, got)
}

func TestGateway_DetachRequeues(t *testing.T) {
	g := NewGateway(zap.NewNop())
	count := 0
	g.Attach(func(statemachine.Snapshot) error { count++; return nil })
	g.Notify(snap(statemachine.EventCheck))
	g.Detach()
	g.Notify(snap(statemachine.EventCheckCompleteAvailable))

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, g.Pending())
}

func TestGateway_WithMachine(t *testing.T) {
	g := NewGateway(zap.NewNop())
	m := statemachine.New(g, zap.NewNop())

	_, err := m.Send(statemachine.Event{Type: statemachine.EventCheck})
	require.NoError(t, err)
	_, err = m.Send(statemachine.Event{Type: statemachine.EventCheckError, Message: "offline"})
	require.NoError(t, err)

	var last statemachine.Snapshot
	g.Attach(func(s statemachine.Snapshot) error { last = s; return nil })
	assert.Equal(t, statemachine.EventCheckError, last.Type)
	require.NotNil(t, last.CheckError)
	assert.Equal(t, "offline", last.CheckError.Message)
}
