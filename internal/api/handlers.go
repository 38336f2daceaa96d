package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/internal/bot"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

// maxMessageBytes bounds the request body; chat messages are short.
const maxMessageBytes = 64 * 1024

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type requestResponse struct {
	ID           ninegag2telegram.RequestID `json:"id"`
	Message      string                     `json:"message"`
	CanonicalURL string                     `json:"canonical_url,omitempty"`
	Filename     string                     `json:"filename,omitempty"`
	Stage        ninegag2telegram.Stage     `json:"stage"`
	Running      bool                       `json:"running"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readMessage(r *http.Request) (bot.Message, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		return bot.Message{}, err
	}
	if len(body) > maxMessageBytes {
		return bot.Message{}, errors.New("message too long")
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req messageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return bot.Message{}, fmt.Errorf("decode message: %w", err)
		}
		return bot.Message{Text: req.Text}, nil
	}
	return bot.Message{Text: string(body)}, nil
}

// postMessage answers with the video itself, or with the text the chat user would have been shown.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := readMessage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	m := &httpMessenger{w: w, r: r}
	if err := s.handler.Handle(r.Context(), msg, m); err != nil {
		s.log.Debugw("message not handled", "error", err)
	}
	if !m.replied {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "no reply"})
	}
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	requests := s.session.ListRequests()
	resp := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		resp = append(resp, toRequestResponse(req.State()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id := ninegag2telegram.RequestID(chi.URLParam(r, "requestID"))
	req := s.session.GetRequest(id)
	if req == nil {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "no running request " + id.String()})
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req.State()))
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.session.History()
	if err != nil {
		s.log.Errorw("failed to list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "history unavailable"})
		return
	}
	if records == nil {
		records = []session.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func toRequestResponse(state ninegag2telegram.State) requestResponse {
	return requestResponse{
		ID:           state.ID,
		Message:      state.Message,
		CanonicalURL: state.CanonicalURL,
		Filename:     state.Filename,
		Stage:        state.Stage,
		Running:      state.Stage.IsRunning(),
	}
}

// httpMessenger turns the first reply into the HTTP response.
type httpMessenger struct {
	w       http.ResponseWriter
	r       *http.Request
	replied bool
}

func (m *httpMessenger) ReplyText(ctx context.Context, text string) error {
	if m.replied {
		return errors.New("already replied")
	}
	m.replied = true
	writeJSON(m.w, http.StatusUnprocessableEntity, messageResponse{Message: text})
	return nil
}

func (m *httpMessenger) ReplyVideo(ctx context.Context, path string) error {
	if m.replied {
		return errors.New("already replied")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	m.replied = true
	filename := filepath.Base(path)
	m.w.Header().Set("Content-Type", "video/mp4")
	m.w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeContent(m.w, m.r, filename, info.ModTime(), f)
	return nil
}
