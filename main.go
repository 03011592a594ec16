package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mbeckert/subhub/app/controllers"
	"github.com/mbeckert/subhub/app/repository"
	"github.com/mbeckert/subhub/internal/pkg/cache"
	"github.com/mbeckert/subhub/internal/pkg/database"
	"github.com/mbeckert/subhub/internal/pkg/env"
	"github.com/mbeckert/subhub/internal/pkg/jobqueue"
	"github.com/mbeckert/subhub/internal/pkg/payments"
	"github.com/mbeckert/subhub/internal/pkg/router"
	"github.com/mbeckert/subhub/internal/pkg/subscriptions"
	"github.com/mbeckert/subhub/internal/pkg/userlock"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "subhub",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// BILLING SERVICE + BACKGROUND JOBS
	queue := jobqueue.NewQueue(env.GetEnvInt("JOB_WORKER_COUNT", 3))
	notifier := jobqueue.NewEmailNotifier(queue, repository.GetGlobalFactory().GetUserRepository())
	svc := subscriptions.NewService(
		subscriptions.NewRepository(database.GetDB()),
		userlock.NewRedisLocker(cache.GetClient()),
		payments.NewClientFromEnv(),
		notifier,
	)
	controllers.SetBillingService(svc)

	manager := jobqueue.NewManager(queue, svc.ExpireOverdue)
	manager.Start()

	// ROUTER
	router.InstallRouter(app)

	return app
}
