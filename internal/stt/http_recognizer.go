package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/config"
)

// httpRecognizer posts WAV clips to a whisper.cpp server's /inference endpoint.
type httpRecognizer struct {
	endpoint string
	language string
	client   *http.Client
}

type inferenceResponse struct {
	Text string `json:"text"`
}

func NewHTTPRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("stt endpoint is empty")
	}
	return &httpRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/inference",
		language: cfg.Language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (r *httpRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, _ bool) (TranscriptResult, error) {
	file, err := os.CreateTemp("", "loqa_stt_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()
	if err := audio.WriteWAV(file, pcm, sampleRate, channels); err != nil {
		return TranscriptResult{}, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return TranscriptResult{}, fmt.Errorf("rewind wav: %w", err)
	}

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		part, err := form.CreateFormFile("file", "audio.wav")
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			_ = form.WriteField("response_format", "json")
			if r.language != "" {
				_ = form.WriteField("language", r.language)
			}
			err = form.Close()
		}
		writer.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		body.Close()
		return TranscriptResult{}, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		body.Close()
		return TranscriptResult{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TranscriptResult{}, fmt.Errorf("inference status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode inference response: %w", err)
	}
	return TranscriptResult{Text: strings.TrimSpace(out.Text)}, nil
}
