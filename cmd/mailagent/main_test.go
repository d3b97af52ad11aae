package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/email/actions"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	log, err = newLogger(&buf, "", false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	_, err = newLogger(&buf, "loud", false)
	assert.Error(t, err)
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("hunter2\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	got, err = readSecret(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", got)

	_, err = readSecret(strings.NewReader("\n"))
	assert.Error(t, err)
}

type echoHandler struct {
	reqs []actions.Request
}

func (h *echoHandler) Handle(_ context.Context, req actions.Request) actions.Response {
	h.reqs = append(h.reqs, req)
	return actions.Response{Text: "got: " + req.Text}
}

func TestChatLoop(t *testing.T) {
	h := &echoHandler{}
	var out bytes.Buffer
	in := strings.NewReader("check my emails\n\n  confirm  \nexit\nnever read\n")

	err := chatLoop(context.Background(), h, "room-1", in, &out)
	require.NoError(t, err)

	require.Len(t, h.reqs, 2)
	assert.Equal(t, actions.Request{RoomID: "room-1", Text: "check my emails"}, h.reqs[0])
	assert.Equal(t, "confirm", h.reqs[1].Text)
	assert.Contains(t, out.String(), "got: check my emails\n")
	assert.Contains(t, out.String(), "got: confirm\n")
}

func TestChatLoopEndsAtEOF(t *testing.T) {
	h := &echoHandler{}
	var out bytes.Buffer

	err := chatLoop(context.Background(), h, "room-1", strings.NewReader("hello"), &out)
	require.NoError(t, err)
	require.Len(t, h.reqs, 1)
}
