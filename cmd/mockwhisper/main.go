// Command mockwhisper is a stand-in transcription backend for developing
// against scribe without an API key or a local whisper build. It accepts
// whisper-style multipart uploads, validates the WAV payload, and answers
// with a fabricated verbose_json result whose word timestamps span the
// uploaded audio.
//
// Point scribe at it with transcription.api_url: http://localhost:9000/inference
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ghardin1314/scribe/internal/audio"
	"github.com/ghardin1314/scribe/internal/transcription"
)

var (
	port     = flag.Int("port", 9000, "Port to listen on")
	latency  = flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per request")
	failRate = flag.Float64("fail-rate", 0, "Fraction of requests to fail with HTTP 500 (0..1)")
	text     = flag.String("text", "the quick brown fox jumps over the lazy dog", "Text to transcribe every chunk as")
)

func inferenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wavData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	if err := audio.ValidateWAV(wavData); err != nil {
		log.Printf("rejected %s: %v", header.Filename, err)
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	duration, err := audio.GetWAVDuration(wavData)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("request: file=%s size=%d duration=%.2fs model=%s format=%s",
		header.Filename, len(wavData), duration,
		r.FormValue("model"), r.FormValue("response_format"))

	time.Sleep(*latency)

	if *failRate > 0 && rand.Float64() < *failRate {
		log.Printf("injected failure")
		http.Error(w, "Injected backend failure", http.StatusInternalServerError)
		return
	}

	result := fabricate(*text, duration)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// fabricate builds a verbose_json result whose words are spread evenly
// across the audio duration, in segments of up to eight words.
func fabricate(text string, duration float64) *transcription.Result {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || duration <= 0 {
		return &transcription.Result{Duration: duration}
	}

	step := duration / float64(len(tokens))
	words := make([]transcription.Word, len(tokens))
	for i, tok := range tokens {
		words[i] = transcription.Word{
			Word:  tok,
			Start: float64(i) * step,
			End:   float64(i+1) * step,
		}
	}

	const wordsPerSegment = 8
	var segments []transcription.Segment
	for start := 0; start < len(words); start += wordsPerSegment {
		end := start + wordsPerSegment
		if end > len(words) {
			end = len(words)
		}
		segWords := words[start:end]
		segments = append(segments, transcription.Segment{
			ID:    len(segments),
			Start: segWords[0].Start,
			End:   segWords[len(segWords)-1].End,
			Text:  strings.Join(tokens[start:end], " "),
			Words: segWords,
		})
	}

	return &transcription.Result{
		Text:     text,
		Language: "en",
		Duration: duration,
		Segments: segments,
		Words:    words,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func main() {
	flag.Parse()

	// Both the whisper.cpp route and the OpenAI route answer, so either
	// api_url shape works.
	http.HandleFunc("/inference", inferenceHandler)
	http.HandleFunc("/v1/audio/transcriptions", inferenceHandler)
	http.HandleFunc("/health", healthHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock whisper server listening on %s", addr)
	log.Printf("endpoint: http://localhost%s/inference", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
