package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/sidecar/internal/application/transit"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/interfaces/http/handlers/testutil"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

type fakeProcessor struct {
	got     []byte
	outcome *transit.Outcome
	err     error
}

func (f *fakeProcessor) IncomingMessage(_ context.Context, raw []byte) (*transit.Outcome, error) {
	f.got = raw
	return f.outcome, f.err
}

func (f *fakeProcessor) Serializer() packet.Serializer { return packet.JSONSerializer{} }

func TestMessageHandler_Ack(t *testing.T) {
	proc := &fakeProcessor{outcome: &transit.Outcome{}}
	h := NewMessageHandler(proc, "sidecar-1", logger.NewNop())

	body := []byte(`{"type":"HEARTBEAT","payload":{"sender":"node-b"}}`)
	c, w := testutil.NewTestContext(http.MethodPost, "/v1/message", body)
	h.Receive(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, body, proc.got)
}

func TestMessageHandler_Reply(t *testing.T) {
	reply := packet.New("node-b", &packet.PongPayload{ID: "p-1", Time: 10, Arrived: 12}).Extend("sidecar-1", "4")
	proc := &fakeProcessor{outcome: &transit.Outcome{Reply: reply}}
	h := NewMessageHandler(proc, "sidecar-1", logger.NewNop())

	c, w := testutil.NewTestContext(http.MethodPost, "/v1/message", []byte(`{}`))
	h.Receive(c)

	require.Equal(t, http.StatusOK, w.Code)
	var raw packet.RawPacket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, string(packet.TypePong), raw.Type)
	assert.Equal(t, "sidecar-1", raw.Sender)
	assert.JSONEq(t, `{"sender":"sidecar-1","ver":"4","id":"p-1","time":10,"arrived":12}`, string(raw.Payload))
}

func TestMessageHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantName string
		wantType string
	}{
		{
			name:     "missing payload",
			err:      errors.NewMissingPayloadError("node-b"),
			wantCode: http.StatusBadRequest,
			wantName: "ProtocolError",
			wantType: errors.ReasonMissingPayload,
		},
		{
			name:     "version mismatch",
			err:      errors.NewProtocolVersionMismatchError("node-b", "4", "3"),
			wantCode: http.StatusInternalServerError,
			wantName: "ProtocolVersionMismatchError",
			wantType: errors.ReasonProtocolVersionMismatch,
		},
		{
			name:     "plain go error",
			err:      assert.AnError,
			wantCode: http.StatusInternalServerError,
			wantName: "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMessageHandler(&fakeProcessor{err: tt.err}, "sidecar-1", logger.NewNop())
			c, w := testutil.NewTestContext(http.MethodPost, "/v1/message", []byte(`{}`))
			h.Receive(c)

			assert.Equal(t, tt.wantCode, w.Code)
			var plain errors.PlainError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plain))
			assert.Equal(t, tt.wantName, plain.Name)
			assert.Equal(t, tt.wantType, plain.Type)
			assert.NotEmpty(t, plain.NodeID)
		})
	}
}
