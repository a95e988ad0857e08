package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MichaelBrandt/CourseGate/app/repository"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/cache"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	metrics "github.com/MichaelBrandt/CourseGate/internal/pkg/metrics/counter"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/router"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/sweeper"
)

func main() {
	app := NewApplication()

	sw := sweeper.GetSweeper(billing.NewServiceFromDB(database.GetDB()))
	sw.Start()

	stopFlush := startCounterFlush()

	// graceful shutdown on SIGINT/SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		sw.Stop()
		stopFlush()
		_ = metrics.FlushAll()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName:   "CourseGate",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

// startCounterFlush persists the Redis counters to the database once a
// minute. Returns a func that stops the ticker.
func startCounterFlush() func() {
	ticker := time.NewTicker(1 * time.Minute)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := metrics.FlushAll(); err != nil {
					log.Printf("counter flush failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
