package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBuffer_CapturesDebug(t *testing.T) {
	var buf LogBuffer
	buf.Logger().Debug("task spawned", "task_id", "t1")

	out := buf.String()
	assert.Contains(t, out, "task spawned")
	assert.Contains(t, out, "task_id=t1")
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		DiscardLogger().Error("dropped")
	})
}
