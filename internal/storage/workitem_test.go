package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{
		"pending", "ready", "self_assigned", "assigned",
		"in_progress", "completed", "paused_for_insertion",
	} {
		status, err := ParseStatus(valid)
		assert.NoError(t, err)
		assert.Equal(t, Status(valid), status)
	}

	_, err := ParseStatus("cancelled")
	assert.Error(t, err)

	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Assignable())
	assert.True(t, StatusReady.Assignable())
	assert.False(t, StatusAssigned.Assignable())
	assert.False(t, StatusCompleted.Assignable())

	assert.True(t, StatusSelfAssigned.AssignedLike())
	assert.True(t, StatusAssigned.AssignedLike())
	assert.True(t, StatusInProgress.AssignedLike())
	assert.False(t, StatusReady.AssignedLike())
	assert.False(t, StatusPausedForInsertion.AssignedLike())

	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func TestMachineMismatchErrorMessage(t *testing.T) {
	err := &MachineMismatchError{
		Required:         "bartack",
		OperatorID:       "op7",
		OperatorMachines: []string{"overlock", "flatlock"},
	}

	assert.Contains(t, err.Error(), "bartack")
	assert.Contains(t, err.Error(), "overlock, flatlock")
	assert.True(t, IsMachineMismatch(err))
}
