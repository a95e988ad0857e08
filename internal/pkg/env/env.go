package env

import (
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/coursegate to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			// Successfully loaded env file
			return
		}
	}

	// If we get here, no env file was found
	panic("No .env file found in any of the expected locations")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

// ProgramStartAt returns the global program-start gate. Members whose billing
// is active before this date are entitled but time-gated until it passes.
// This is the single authoritative source for the gate.
func ProgramStartAt() time.Time {
	raw := GetEnv("PROGRAM_START_AT", "")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// A typo here would silently drop the gate and open content early,
		// so make the misconfiguration visible.
		programStartWarn.Do(func() {
			log.Errorf("[Env] PROGRAM_START_AT %q is not RFC 3339, gate disabled: %v", raw, err)
		})
		return time.Time{}
	}
	return t
}

var programStartWarn sync.Once
