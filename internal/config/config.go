// Package config reads the enumerated Lockbox environment variables. A .env
// file is honored when present so local runs match deployed behavior.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

const defaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

type Config struct {
	Port           string
	RemoveBasePath bool // strip the /Prod route prefix

	SupabaseURL        string
	SupabaseServiceKey string

	SNSTopicARN string
	TestSNS     bool // bypass event publishing entirely

	SQSQueueURL string

	ExpoPushURL string
}

// Load reads configuration from the environment. Missing values are not fatal
// here; each consumer validates what it needs (the SNS publisher, for example,
// fails on first use without a topic ARN).
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		RemoveBasePath:     os.Getenv("REMOVE_BASE_PATH") == "true",
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SNSTopicARN:        os.Getenv("SNS_TOPIC_ARN"),
		TestSNS:            os.Getenv("TEST_SNS") == "true",
		SQSQueueURL:        os.Getenv("SQS_QUEUE_URL"),
		ExpoPushURL:        getEnv("EXPO_PUSH_URL", defaultExpoPushURL),
	}
}

// BasePath returns the route prefix for the HTTP surface.
func (c *Config) BasePath() string {
	if c.RemoveBasePath {
		return ""
	}
	return "/Prod"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
