package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"promptarena-backend/internal/logger"
)

const maxAudioBytes = 20 << 20

type transcriber interface {
	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type TranscribeHandler struct {
	transcriber transcriber
	log         *logger.Logger
}

func NewTranscribeHandler(t transcriber, log *logger.Logger) *TranscribeHandler {
	return &TranscribeHandler{transcriber: t, log: log}
}

// Transcribe turns a recorded prompt (multipart field "audio") into text.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Audio must be a multipart upload under 20MB", r))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"audio": "Audio file is required"}, r))
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "audio/") && mimeType != "video/webm" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"audio": "Unsupported audio type"}, r))
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Could not read audio", r))
		return
	}

	text, err := h.transcriber.TranscribeAudio(r.Context(), audio, mimeType)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
