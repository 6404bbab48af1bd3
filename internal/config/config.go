package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress      string
	StorePath        string
	GeminiAPIKey     string
	GeminiModelID    string
	GeminiTTSModelID string
	GeminiTTSVoice   string
	TTSProvider      string
	DeepgramAPIKey   string
	DeepgramModelID  string
	AssemblyAIKey    string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = "oichat.db"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - chat and speech synthesis will not work")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash"
	}
	geminiTTSModel := os.Getenv("GEMINI_TTS_MODEL_ID")
	if geminiTTSModel == "" {
		geminiTTSModel = "gemini-2.5-flash-preview-tts"
	}
	geminiVoice := os.Getenv("GEMINI_TTS_VOICE")
	if geminiVoice == "" {
		geminiVoice = "Kore"
	}

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider != "gemini" && ttsProvider != "deepgram" {
		if ttsProvider != "" {
			log.Printf("Warning: unknown TTS_PROVIDER %q - falling back to gemini", ttsProvider)
		}
		ttsProvider = "gemini"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if ttsProvider == "deepgram" && deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}
	deepgramModel := os.Getenv("DEEPGRAM_MODEL_ID")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - speech input will be unavailable")
	}

	log.Printf("config: HTTP_ADDRESS=%s STORE_PATH=%s TTS_PROVIDER=%s", addr, storePath, ttsProvider)
	return Config{
		HTTPAddress:      addr,
		StorePath:        storePath,
		GeminiAPIKey:     geminiKey,
		GeminiModelID:    geminiModel,
		GeminiTTSModelID: geminiTTSModel,
		GeminiTTSVoice:   geminiVoice,
		TTSProvider:      ttsProvider,
		DeepgramAPIKey:   deepgramKey,
		DeepgramModelID:  deepgramModel,
		AssemblyAIKey:    assemblyAIKey,
	}
}
