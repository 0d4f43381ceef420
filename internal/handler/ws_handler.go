package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	ws "github.com/stemsi/exstem-attempts/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler carries the attempt operations over one WebSocket connection.
type WSHandler struct {
	attemptService    *service.AttemptService
	answerService     *service.AnswerService
	submissionService *service.SubmissionService
	integrityService  *service.IntegrityService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	attemptService *service.AttemptService,
	answerService *service.AnswerService,
	submissionService *service.SubmissionService,
	integrityService *service.IntegrityService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attemptService:    attemptService,
		answerService:     answerService,
		submissionService: submissionService,
		integrityService:  integrityService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream?token=...
// Upgrades to WebSocket for autosave, integrity batches and submit.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	// Refuse the upgrade for attempts that can no longer be written to.
	if _, err := h.attemptService.EnsureEditable(c.Request.Context(), attemptID); err != nil {
		failWith(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("attempt_id", attemptID.String()).Logger()
	wsLog.Info().Msg("Candidate connected")

	ctx := c.Request.Context()
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		done := h.dispatch(ctx, conn, wsLog, attemptID, &msg)
		if done {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt finished"))
			return
		}
	}
}

// dispatch handles one frame. It reports true once the attempt is finished
// and the connection should close.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, msg *ws.RequestEnvelope) bool {
	switch msg.Action {
	case ws.ActionPing:
		ws.Reply(conn, ws.EventPong, msg.RequestID, nil)

	case ws.ActionAutosave:
		var req model.SaveAnswerRequest
		if !decodeFrame(conn, msg, &req) {
			return false
		}
		result, err := h.answerService.SaveAnswer(ctx, attemptID, req)
		if err != nil {
			return h.writeFailure(conn, log, msg.RequestID, err)
		}
		ws.Reply(conn, ws.EventAck, msg.RequestID, result)

	case ws.ActionProgress:
		var req model.ProgressRequest
		if !decodeFrame(conn, msg, &req) {
			return false
		}
		if err := h.attemptService.UpdateProgress(ctx, attemptID, req.CurrentQuestionIndex); err != nil {
			return h.writeFailure(conn, log, msg.RequestID, err)
		}
		ws.Reply(conn, ws.EventAck, msg.RequestID, req)

	case ws.ActionIntegrity:
		var req model.IntegrityBatchRequest
		if !decodeFrame(conn, msg, &req) {
			return false
		}
		summary, err := h.integrityService.Record(ctx, attemptID, req)
		if err != nil {
			return h.writeFailure(conn, log, msg.RequestID, err)
		}
		ws.Reply(conn, ws.EventAck, msg.RequestID, summary)

	case ws.ActionSubmit:
		result, err := h.submissionService.Submit(ctx, attemptID)
		if err != nil {
			return h.writeFailure(conn, log, msg.RequestID, err)
		}
		log.Info().Int("percentage", result.Result.Percentage).Msg("Attempt submitted over WebSocket")
		ws.Reply(conn, ws.EventSubmitted, msg.RequestID, result)
		return true

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		ws.WriteError(conn, msg.RequestID, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
	return false
}

// decodeFrame unmarshals and validates the frame payload into dst.
func decodeFrame(conn *websocket.Conn, msg *ws.RequestEnvelope, dst any) bool {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		ws.WriteError(conn, msg.RequestID, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		ws.WriteTyped(conn, ws.ResponseEnvelope{
			Event:     ws.EventError,
			RequestID: msg.RequestID,
			Code:      string(response.ErrValidation),
			Error:     response.GetMessage(response.ErrValidation),
			Fields:    fields,
		})
		return false
	}
	return true
}

// writeFailure reports err to the client. A finished or expired attempt
// ends the stream.
func (h *WSHandler) writeFailure(conn *websocket.Conn, log zerolog.Logger, requestID string, err error) bool {
	_, code := classify(err)
	if code == response.ErrInternal {
		log.Error().Err(err).Msg("WebSocket action failed")
	}
	ws.WriteError(conn, requestID, string(code), response.GetMessage(code))
	return code == response.ErrNotEditable || code == response.ErrAttemptExpired
}
