// Command mock-transcriber is a stand-in for a Whisper-compatible
// transcription API, for exercising the http backend without a model.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Ocean-Moist/rholive/internal/audio"
)

// transcriptionResponse mirrors the API's JSON body
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// scriptedTranscriber reveals a fixed sentence progressively: the longer the
// snapshot, the more words come back. The full sentence ends with a period.
type scriptedTranscriber struct {
	words        []string
	wordDuration time.Duration
	delay        time.Duration
	logger       *slog.Logger
}

func (s *scriptedTranscriber) text(d time.Duration) string {
	n := int(d / s.wordDuration)
	if n <= 0 {
		return ""
	}
	if n >= len(s.words) {
		return strings.Join(s.words, " ") + "."
	}
	return strings.Join(s.words[:n], " ")
}

func (s *scriptedTranscriber) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	duration := audio.SamplesDuration(len(data) / audio.BytesPerSample)

	s.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.String("format", r.FormValue("format")),
		slog.String("sample_rate", r.FormValue("sample_rate")),
		slog.Duration("audio", duration),
		slog.Bool("authorized", r.Header.Get("Authorization") != ""),
	)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	response := transcriptionResponse{
		Text:     s.text(duration),
		Language: language,
		Duration: duration.Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	sentence := flag.String("text", "the quick brown fox jumps over the lazy dog", "Sentence revealed as audio accumulates")
	perWord := flag.Duration("word", 300*time.Millisecond, "Audio needed per revealed word")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *perWord <= 0 {
		fmt.Fprintln(os.Stderr, "-word must be positive")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/transcribe", &scriptedTranscriber{
		words:        strings.Fields(*sentence),
		wordDuration: *perWord,
		delay:        *delay,
		logger:       logger,
	})

	logger.Info("Mock transcription server starting",
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/transcribe", *addr)),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
