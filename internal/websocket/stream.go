package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/privacy"
)

// StreamRedaction returns the handler for the redaction socket. Each inbound
// message is a JSON {"text": ...} object or plain text; the reply is one
// entity message per replacement followed by a summary.
func (h *Hub) StreamRedaction(redactor privacy.Redactor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r) {
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("Failed to upgrade redaction stream", zap.Error(err))
			return
		}
		defer conn.Close()

		conn.SetReadLimit(h.config.MaxMessageSize)

		for {
			// idle sockets close after the pong timeout
			conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("Redaction stream closed", zap.Error(err))
				}
				return
			}

			if err := h.streamOne(conn, redactor, decodeStreamText(data)); err != nil {
				h.logger.Debug("Redaction stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) streamOne(conn *websocket.Conn, redactor privacy.Redactor, text string) error {
	start := time.Now()
	report := redactor.Redact(text)

	for _, record := range report.Records() {
		record := record
		conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := conn.WriteJSON(StreamMessage{Type: "entity", Entity: &record}); err != nil {
			return err
		}
	}

	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	if err := conn.WriteJSON(StreamMessage{
		Type:          "summary",
		RedactedText:  report.RedactedText,
		Counts:        report.Counts,
		TotalFindings: report.Total(),
		Advisory:      privacy.Advisory,
	}); err != nil {
		return err
	}

	h.BroadcastEvent(Event{
		Type: EventTypeRedaction,
		Data: RedactionEvent{
			Source:        "websocket",
			Counts:        report.Counts,
			TotalFindings: report.Total(),
			ProcessingMS:  float64(time.Since(start).Microseconds()) / 1000,
		},
	})
	return nil
}

func decodeStreamText(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var req StreamRequest
		if err := json.Unmarshal(data, &req); err == nil {
			return req.Text
		}
	}
	return string(data)
}
