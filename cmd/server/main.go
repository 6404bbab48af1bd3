package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/audio"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/auth"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/chat"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/config"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/httpserver"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/llm"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/store"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/stt"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	records, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("open store at %s: %v", cfg.StorePath, err)
	}
	defer records.Close()

	var provider chat.Provider
	if client, err := llm.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModelID); err != nil {
		log.Printf("Warning: gemini client unavailable: %v", err)
	} else {
		provider = client
	}

	var engine tts.Engine
	switch cfg.TTSProvider {
	case "deepgram":
		engine = tts.NewDeepgramEngine(cfg.DeepgramAPIKey, cfg.DeepgramModelID)
	default:
		engine = tts.NewGeminiEngine(cfg.GeminiAPIKey, cfg.GeminiTTSModelID, cfg.GeminiTTSVoice)
	}

	playback := audio.NewSwitch()
	pipeline := tts.NewPipeline(engine, playback, nil)

	session := chat.NewSession(provider, pipeline, records)
	accounts := auth.NewService(records)
	if user, ok := accounts.CurrentUser(); ok {
		log.Printf("restoring session for %s", user.Username)
		session.Initialize(user.Username)
	}

	var recognizerFactory func() stt.Recognizer
	if cfg.AssemblyAIKey != "" {
		key := cfg.AssemblyAIKey
		recognizerFactory = func() stt.Recognizer { return stt.NewAssemblyAIRecognizer(key) }
	}

	srv := httpserver.New(httpserver.Deps{
		Auth:              accounts,
		Session:           session,
		Records:           records,
		Playback:          playback,
		RecognizerFactory: recognizerFactory,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
