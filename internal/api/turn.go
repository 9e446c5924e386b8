package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/honeypot"
)

const (
	maxBodyBytes   = 1 << 20
	maxHistory     = 200
	maxMessageRune = 8000
)

const maxSessionIDBytes = 128

// validSessionID accepts any printable UTF-8 id of bounded length. Ids are
// opaque; components that need a safe form, like transcript file names,
// sanitize them.
func validSessionID(id string) bool {
	if len(id) > maxSessionIDBytes || strings.TrimSpace(id) == "" || !utf8.ValidString(id) {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Timestamp accepts RFC 3339 strings or Unix epoch milliseconds.
type Timestamp time.Time

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*t = Timestamp(time.UnixMilli(ms).UTC())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp(time.UnixMilli(ms).UTC())
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}

// MessageRequest is one message on the wire.
type MessageRequest struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

func (m MessageRequest) toDomain() domain.Message {
	return domain.Message{
		Sender:    strings.ToLower(strings.TrimSpace(m.Sender)),
		Text:      m.Text,
		Timestamp: time.Time(m.Timestamp),
	}
}

// MetadataRequest carries channel hints.
type MetadataRequest struct {
	Channel  string `json:"channel"`
	Language string `json:"language"`
	Locale   string `json:"locale"`
}

// TurnRequest is the body of POST /api/honeypot.
type TurnRequest struct {
	SessionID           string           `json:"sessionId"`
	Message             MessageRequest   `json:"message"`
	ConversationHistory []MessageRequest `json:"conversationHistory"`
	Metadata            *MetadataRequest `json:"metadata"`
}

// Validate rejects malformed turns before they reach the core.
func (req TurnRequest) Validate() error {
	if !validSessionID(req.SessionID) {
		return errors.New("sessionId must be 1-128 bytes of printable text")
	}
	if strings.TrimSpace(req.Message.Text) == "" {
		return errors.New("message.text is required")
	}
	if len([]rune(req.Message.Text)) > maxMessageRune {
		return fmt.Errorf("message.text exceeds %d characters", maxMessageRune)
	}
	if len(req.ConversationHistory) > maxHistory {
		return fmt.Errorf("conversationHistory exceeds %d messages", maxHistory)
	}
	return nil
}

func (req TurnRequest) toDomain() honeypot.TurnRequest {
	out := honeypot.TurnRequest{
		SessionID: req.SessionID,
		Message:   req.Message.toDomain(),
	}
	if out.Message.Sender == "" {
		out.Message.Sender = domain.SenderScammer
	}
	for _, m := range req.ConversationHistory {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		out.History = append(out.History, m.toDomain())
	}
	if req.Metadata != nil {
		out.Metadata = honeypot.Metadata{
			Channel:  req.Metadata.Channel,
			Language: req.Metadata.Language,
			Locale:   req.Metadata.Locale,
		}
	}
	return out
}

// EngagementMetrics reports how long the scammer has been kept busy.
type EngagementMetrics struct {
	EngagementDurationSeconds int64 `json:"engagementDurationSeconds"`
	TotalMessagesExchanged    int   `json:"totalMessagesExchanged"`
}

// TurnResponse is the body returned by POST /api/honeypot. Reply and
// AgentResponse carry the same text.
type TurnResponse struct {
	Status                string                       `json:"status"`
	Reply                 string                       `json:"reply"`
	ScamDetected          bool                         `json:"scamDetected"`
	AgentResponse         string                       `json:"agentResponse"`
	EngagementMetrics     EngagementMetrics            `json:"engagementMetrics"`
	ExtractedIntelligence domain.ExtractedIntelligence `json:"extractedIntelligence"`
	AgentNotes            string                       `json:"agentNotes"`
}

func newTurnResponse(res honeypot.TurnResult) TurnResponse {
	return TurnResponse{
		Status:        "success",
		Reply:         res.Reply,
		ScamDetected:  res.ScamDetected,
		AgentResponse: res.Reply,
		EngagementMetrics: EngagementMetrics{
			EngagementDurationSeconds: res.EngagementDurationSeconds,
			TotalMessagesExchanged:    res.TurnCount,
		},
		ExtractedIntelligence: res.Intelligence,
		AgentNotes:            res.AgentNotes,
	}
}

// Turn handles one inbound message.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req TurnRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orch.HandleTurn(r.Context(), req.toDomain())
	if err != nil {
		if errors.Is(err, honeypot.ErrInvalidTurn) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Turn failed",
			"session_id", req.SessionID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err)
		Error(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	h.logger.Info("Turn processed",
		"session_id", res.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"scam_detected", res.ScamDetected,
		"scam_type", res.ScamType,
		"status", res.Status,
		"turn", res.TurnCount,
		"reply_path", res.ReplyPath,
		"degraded", res.Degraded,
		"duplicate", res.Duplicate)

	JSON(w, http.StatusOK, newTurnResponse(res))
}
