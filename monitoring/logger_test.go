package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("ekf reset: %s", "gap")
	assert.Equal(t, []string{"ekf reset: gap"}, got)

	SetLogger(nil)
	Logf("muted %d", 1)
	assert.Len(t, got, 1, "nil logger must be a no-op")
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}
