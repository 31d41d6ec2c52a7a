package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, true)

	log.With("component", "otp").Warn(context.Background(), "expired", "email", "a@x.com")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=expired")
	assert.Contains(t, out, "component=otp")
	assert.Contains(t, out, "email=a@x.com")
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, false)

	log.Info(context.Background(), "signed in", "user_id", "u1")

	assert.Contains(t, buf.String(), `"msg":"signed in"`)
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
}
