package routes

import (
	"log"
	"os"

	controller "leadflow/controllers"
	"leadflow/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	// Initialize controllers with their respective loggers
	threadController := controller.NewThreadController(db, log.New(os.Stdout, "THREAD: ", log.LstdFlags))
	contactController := controller.NewContactController(db, log.New(os.Stdout, "CONTACT: ", log.LstdFlags))
	templateController := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	sendController := controller.NewSendController(db, log.New(os.Stdout, "SEND: ", log.LstdFlags))
	analyticsController := controller.NewAnalyticsController(db, log.New(os.Stdout, "ANALYTICS: ", log.LstdFlags))
	activityController := controller.NewActivityController(db, log.New(os.Stdout, "ACTIVITY: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sync trigger, rate limited per user
	api.Post("/sync", middleware.SyncRateLimiter(), threadController.TriggerSync)

	// Thread routes
	thread := api.Group("/threads")
	thread.Get("/", threadController.GetThreads)
	thread.Get("/:id", threadController.GetThread)
	thread.Patch("/:id/status", threadController.UpdateThreadStatus)

	// Legacy per-message lead status
	api.Patch("/messages/:id/lead-status", threadController.UpdateMessageLeadStatus)

	// Sending
	api.Post("/messages/send", sendController.SendMessage)
	api.Post("/campaigns/send", sendController.SendCampaign)

	// Dataset and contact routes
	dataset := api.Group("/datasets")
	dataset.Post("/", contactController.CreateDataset)
	dataset.Get("/", contactController.GetDatasets)
	dataset.Get("/:id", contactController.GetDataset)
	dataset.Delete("/:id", contactController.DeleteDataset)
	dataset.Post("/:id/contacts", contactController.UploadContacts)
	dataset.Get("/:id/contacts", contactController.GetContacts)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.GetTemplates)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)
	template.Post("/:id/preview", templateController.PreviewTemplate)

	// Analytics routes
	analytics := api.Group("/analytics")
	analytics.Get("/summary", analyticsController.GetSummary)
	analytics.Get("/trend", analyticsController.GetTrend)

	// Activity log
	api.Get("/activity", activityController.GetActivity)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAPIRoutes(app, db)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
