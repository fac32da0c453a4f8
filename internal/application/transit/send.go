package transit

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/orris-inc/sidecar/internal/domain/gateway"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/shared/errors"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

// foreignException is the XML error body returned by legacy gateways.
type foreignException struct {
	XMLName       xml.Name `xml:"exception"`
	Descr         string   `xml:"descr"`
	CreationStack string   `xml:"creationStack"`
}

// send posts pkt to gw and dispatches the packet carried by the reply body,
// if any. hops counts the packets already chained through reply bodies.
func (t *Transit) send(ctx context.Context, pkt *packet.Packet, gw *gateway.Gateway, hops int) (*Outcome, error) {
	pkt.Extend(t.broker.NodeID(), packet.ProtocolVersion)
	body, err := pkt.Serialize(t.serializer)
	if err != nil {
		return nil, err
	}

	target := gw.URL().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range gw.AuthHeaders() {
		req.Header[key] = values
	}

	t.logger.Debugw("sending packet",
		"type", pkt.Type,
		"target", pkt.Target,
		"url", target,
	)

	resp, err := t.client.Do(req)
	if err != nil {
		telemetry.SendFailures.WithLabelValues(pkt.Type.String()).Inc()
		return nil, errors.NewNetworkError(target, err)
	}
	defer resp.Body.Close()
	telemetry.PacketsSent.WithLabelValues(pkt.Type.String()).Inc()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.SendFailures.WithLabelValues(pkt.Type.String()).Inc()
		return nil, errors.NewNetworkError(target, err)
	}

	reply, err := t.interpretReply(resp, text)
	if err != nil {
		telemetry.SendFailures.WithLabelValues(pkt.Type.String()).Inc()
		return nil, err
	}
	if reply == nil {
		return &Outcome{}, nil
	}
	return t.dispatchReply(ctx, reply, gw, hops)
}

// interpretReply classifies a gateway reply. A nil packet with a nil error
// is a plain ack.
func (t *Transit) interpretReply(resp *http.Response, text []byte) (*packet.Packet, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewTransportError(resp.StatusCode, http.StatusText(resp.StatusCode), string(text))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case contentType == "":
		return nil, errors.NewRequestRejectedError("Missing content-type", map[string]any{
			"status": resp.StatusCode,
		})
	case strings.HasPrefix(contentType, "application/xml"):
		return nil, parseForeignError(text, resp.StatusCode)
	case !strings.HasPrefix(contentType, "application/json"):
		return nil, errors.NewInvalidPacketDataError("Unexpected reply content type", map[string]any{
			"responseText": string(text),
			"status":       resp.StatusCode,
			"statusText":   http.StatusText(resp.StatusCode),
		})
	}

	if len(bytes.TrimSpace(text)) == 0 {
		return nil, nil
	}
	reply, err := packet.Deserialize(text, t.serializer)
	if err != nil {
		t.logger.Warnw("invalid packet in gateway reply",
			"error", err,
			"content", string(text),
		)
		return nil, err
	}
	return reply, nil
}

func parseForeignError(text []byte, status int) error {
	var exc foreignException
	if err := xml.Unmarshal(text, &exc); err != nil {
		return errors.NewInvalidPacketDataError("Malformed exception reply: "+err.Error(), map[string]any{
			"responseText": string(text),
			"status":       status,
		})
	}
	return errors.NewForeignError(strings.TrimSpace(exc.Descr), strings.TrimSpace(exc.CreationStack),
		status, http.StatusText(status))
}

// dispatchReply runs a packet found in a reply body through the inbound
// dispatch and posts its answer, if any, back to the same gateway.
func (t *Transit) dispatchReply(ctx context.Context, reply *packet.Packet, gw *gateway.Gateway, hops int) (*Outcome, error) {
	telemetry.PacketsReceived.WithLabelValues(reply.Type.String()).Inc()

	out, err := t.dispatch(ctx, reply, hops+1)
	if err != nil {
		return nil, err
	}
	if out.Reply == nil {
		return out, nil
	}
	if hops+1 >= maxReplyHops {
		t.logger.Warnw("reply chain too long, dropping answer",
			"type", out.Reply.Type,
			"target", out.Reply.Target,
		)
		return out, nil
	}
	if _, err := t.send(ctx, out.Reply, gw, hops+1); err != nil {
		t.logger.Warnw("failed to answer packet received in reply body",
			"type", out.Reply.Type,
			"target", out.Reply.Target,
			"error", err,
		)
	}
	return out, nil
}
