package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenbreath/internal/core/breathkeeper"
	"zenbreath/internal/core/model"
)

func TestTargetReachedKeepsSessionRunning(t *testing.T) {
	keeper := breathkeeper.New(breathkeeper.Options{})
	defer keeper.Close()
	events := keeper.Subscribe(64)

	origin := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	pattern := model.NewPattern("box", 1, 1, 1, 1)
	pattern.RecommendedCycles = 1
	require.NoError(t, keeper.Start(pattern, origin))
	for offset := 100 * time.Millisecond; offset <= 5*time.Second; offset += 100 * time.Millisecond {
		keeper.Tick(origin.Add(offset))
	}
	assert.Equal(t, breathkeeper.StateRunning, keeper.State())

	var target *breathkeeper.Event
	for len(events) > 0 {
		event := <-events
		if event.Type == breathkeeper.EventTargetReached {
			target = &event
		}
	}
	require.NotNil(t, target)
	assert.Equal(t, "box: 1 cycles done", targetStatus(*target))
}
