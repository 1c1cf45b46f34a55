package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/turinggame/core/internal/stage"
)

type Config struct {
	Port           string
	CoordinatorURL string
	Timings        stage.Timings
	AISeats        int
}

// FromEnv reads configuration from the environment, loading a local .env
// file first when one exists.
func FromEnv() Config {
	_ = godotenv.Load()

	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.CoordinatorURL = getenv("COORDINATOR_URL", "ws://localhost:8080/ws")
	c.Timings = stage.Timings{
		TopicReviewSec: getint("TOPIC_REVIEW_SEC", 5),
		DiscussionSec:  getint("DISCUSSION_SEC", 180),
		VotingSec:      getint("VOTING_SEC", 30),
	}
	c.AISeats = getint("AI_SEATS", 4)
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
