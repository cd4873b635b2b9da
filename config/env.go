package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// EnvString returns the trimmed value of key, or def when it is unset or blank.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvBoolDefault accepts 1/true/yes/y and 0/false/no/n, case-insensitive.
func EnvBoolDefault(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

func SecondsFromEnv(key string, def time.Duration) time.Duration {
	n := IntFromEnv(key, -1)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// SplitList parses a comma separated env value, dropping blanks.
func SplitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func backoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
