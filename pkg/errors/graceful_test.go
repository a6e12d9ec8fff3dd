package errors

import (
	"bytes"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGracefulErrorWraps(t *testing.T) {
	inner := fmt.Errorf("dial tcp: refused")
	err := NewGracefulError("start metrics server", inner)

	assert.Equal(t, "operation 'start metrics server' failed: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestConfigErrorNotFound(t *testing.T) {
	var buf bytes.Buffer
	eh := newErrorHandler(&buf)

	eh.ConfigError("wakegate.toml", fmt.Errorf("open: %w", fs.ErrNotExist))

	assert.Contains(t, buf.String(), "configuration file 'wakegate.toml' not found")
	assert.Equal(t, ExitConfig, eh.WaitForExit())
}

func TestOnlyFirstExitCodeIsKept(t *testing.T) {
	var buf bytes.Buffer
	eh := newErrorHandler(&buf)

	eh.FatalError("open audit store", fmt.Errorf("disk full"))
	eh.ValidationError("panel.url", fmt.Errorf("required"))

	code, ok := eh.WaitForExitWithTimeout(time.Second)
	assert.True(t, ok)
	assert.Equal(t, ExitFatal, code)

	_, ok = eh.WaitForExitWithTimeout(10 * time.Millisecond)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "invalid configuration - panel.url: required")
}
