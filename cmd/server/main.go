package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"warehouse-backend/internal/admin"
	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/borrow"
	"warehouse-backend/internal/catalog"
	"warehouse-backend/internal/clearance"
	"warehouse-backend/internal/config"
	"warehouse-backend/internal/dashboard"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/intake"
	"warehouse-backend/internal/jubelio"
	"warehouse-backend/internal/metrics"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/movements"
	"warehouse-backend/internal/scheduler"
	"warehouse-backend/internal/seeded"
	"warehouse-backend/internal/storage"
	"warehouse-backend/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Env))
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)
	cfg.Warn(baseLogger)

	if err := database.Init(cfg, baseLogger.Named("database")); err != nil {
		baseLogger.Fatal("failed to init database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(); err != nil {
			baseLogger.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := catalog.ImageDir(cfg.UploadPath); err != nil {
		baseLogger.Fatal("failed to prepare upload directory", zap.Error(err))
	}

	erp := jubelio.NewClient(cfg.Jubelio)
	if erp == nil {
		baseLogger.Warn("JUBELIO_WEBHOOK_URL missing, stock relay disabled")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apiutil.ErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.Middleware(baseLogger.Named("http")))
	if cfg.MetricsEnabled {
		app.Use(metrics.Middleware())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins(), ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	app.Static("/uploads", cfg.UploadPath)

	registerRoutes(app, cfg, erp)

	sched := scheduler.New(cfg, database.DB, erp, baseLogger)
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.HTTPPort))
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(app *fiber.App, cfg *config.Config, erp *jubelio.Client) {
	adminOnly := auth.RequireRole(models.RoleAdmin)
	managers := auth.RequireRole(models.RoleManager, models.RoleAdmin)
	keepers := auth.RequireRole(models.RoleStorage, models.RoleAdmin)
	staff := auth.RequireRole(models.RoleStorage, models.RoleManager, models.RoleAdmin)

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler())
	api.Post("/auth/login", auth.LoginHandler(cfg.JWTSecret))

	// Everything below needs a token
	protected := api.Group("", auth.JWTMiddleware(cfg.JWTSecret))
	protected.Get("/auth/me", auth.MeHandler())

	// Departments & users
	protected.Get("/departments", admin.ListDepartmentsHandler())
	protected.Post("/departments", adminOnly, admin.CreateDepartmentHandler())
	protected.Put("/departments/:id", adminOnly, admin.UpdateDepartmentHandler())
	protected.Delete("/departments/:id", adminOnly, admin.DeleteDepartmentHandler())

	protected.Get("/users", managers, admin.ListUsersHandler())
	protected.Get("/users/:id", managers, admin.GetUserHandler())
	protected.Post("/users", adminOnly, admin.CreateUserHandler())
	protected.Put("/users/:id", adminOnly, admin.UpdateUserHandler())
	protected.Delete("/users/:id", adminOnly, admin.DeleteUserHandler())

	// Locations & boxes
	protected.Get("/locations", storage.ListLocationsHandler())
	protected.Get("/locations/tree", storage.LocationTreeHandler())
	protected.Get("/locations/:id", storage.GetLocationHandler())
	protected.Post("/locations", keepers, storage.CreateLocationHandler())
	protected.Put("/locations/:id", keepers, storage.UpdateLocationHandler())
	protected.Delete("/locations/:id", keepers, storage.DeleteLocationHandler())

	protected.Get("/boxes", storage.ListBoxesHandler())
	protected.Get("/boxes/:id", storage.GetBoxHandler())
	protected.Get("/boxes/:id/contents", storage.BoxContentsHandler())
	protected.Post("/boxes", keepers, storage.CreateBoxHandler())
	protected.Put("/boxes/:id", keepers, storage.UpdateBoxHandler())
	protected.Delete("/boxes/:id", keepers, storage.DeleteBoxHandler())

	// Items, stock items, images, Excel
	protected.Get("/items", catalog.ListItemsHandler())
	protected.Get("/items/categories", catalog.ListCategoriesHandler())
	protected.Post("/items/sku-lookup", catalog.SKULookupHandler())
	protected.Get("/items/:id", catalog.GetItemHandler())
	protected.Post("/items", keepers, catalog.CreateItemHandler())
	protected.Put("/items/:id", keepers, catalog.UpdateItemHandler())
	protected.Delete("/items/:id", keepers, catalog.DeleteItemHandler())
	protected.Post("/items/:id/archive", keepers, catalog.ArchiveItemHandler())
	protected.Post("/items/:id/unarchive", keepers, catalog.UnarchiveItemHandler())
	protected.Get("/items/:id/images", catalog.ListItemImagesHandler())
	protected.Post("/items/:id/images", keepers, catalog.UploadItemImageHandler())
	protected.Delete("/item-images/:id", keepers, catalog.DeleteItemImageHandler())
	protected.Get("/archived-items", catalog.ListArchivedItemsHandler())

	protected.Get("/stock-items", catalog.ListStockItemsHandler())
	protected.Get("/stock-items/summary", catalog.StockSummaryHandler())
	protected.Get("/stock-items/export", staff, catalog.ExportStockHandler())
	protected.Get("/stock-items/:id", catalog.GetStockItemHandler())
	protected.Post("/stock-items/:id/transfer", keepers, catalog.TransferStockHandler())
	protected.Get("/stock-movements", staff, movements.ListMovementsHandler())

	// Intake
	protected.Post("/item-requests", intake.CreateItemRequestHandler())
	protected.Get("/item-requests", intake.ListItemRequestsHandler())
	protected.Get("/item-requests/:id", intake.GetItemRequestHandler())
	protected.Post("/item-requests/:id/approve", keepers, intake.ApproveItemRequestHandler())
	protected.Post("/item-requests/:id/reject", keepers, intake.RejectItemRequestHandler())

	// Borrowing
	protected.Post("/borrow-requests", borrow.CreateBorrowRequestHandler())
	protected.Get("/borrow-requests", borrow.ListBorrowRequestsHandler())
	protected.Get("/borrow-requests/active", borrow.ListActiveLoansHandler())
	protected.Get("/borrow-requests/:id", borrow.GetBorrowRequestHandler())
	protected.Post("/borrow-requests/:id/manager-approve", managers, borrow.ManagerApproveHandler())
	protected.Post("/borrow-requests/:id/manager-reject", managers, borrow.ManagerRejectHandler())
	protected.Post("/borrow-requests/:id/storage-approve", keepers, borrow.StorageApproveHandler())
	protected.Post("/borrow-requests/:id/storage-reject", keepers, borrow.StorageRejectHandler())
	protected.Post("/borrow-requests/:id/activate", keepers, borrow.ActivateHandler())
	protected.Post("/borrow-requests/:id/return", keepers, borrow.ReturnHandler())
	protected.Post("/borrow-requests/:id/revert", keepers, borrow.RevertHandler())
	protected.Post("/borrow-requests/:id/cancel", borrow.CancelHandler())

	// Seeded units
	protected.Get("/seeded-items", staff, seeded.ListSeededItemsHandler())
	protected.Post("/seeded-items/:stock_id/recover", keepers, seeded.RecoverHandler())
	protected.Post("/seeded-items/:stock_id/clearance", keepers, seeded.ClearanceHandler())

	// Clearance
	protected.Post("/clearance/items", keepers, clearance.CreateItemClearanceHandler())
	protected.Get("/clearance/items", staff, clearance.ListItemClearancesHandler())
	protected.Get("/clearance/items/:id", staff, clearance.GetItemClearanceHandler())
	protected.Post("/clearance/items/:id/approve", keepers, clearance.ApproveItemClearanceHandler())
	protected.Post("/clearance/items/:id/reject", keepers, clearance.RejectItemClearanceHandler())

	protected.Get("/clearance/template", staff, clearance.TemplateHandler())
	protected.Get("/clearance/history", staff, clearance.HistoryHandler())
	protected.Get("/clearance/history/export", staff, clearance.ExportHistoryHandler())
	protected.Get("/clearance/forms", staff, clearance.ListFormsHandler())
	protected.Get("/clearance/forms/:id", staff, clearance.GetFormHandler())
	protected.Post("/clearance/forms", keepers, clearance.CreateFormHandler())
	protected.Put("/clearance/forms/:id", keepers, clearance.UpdateFormHandler())
	protected.Delete("/clearance/forms/:id", keepers, clearance.DeleteFormHandler())
	protected.Post("/clearance/forms/:id/import", keepers, clearance.ImportFormHandler())
	protected.Post("/clearance/forms/:id/submit", keepers, clearance.SubmitFormHandler())
	protected.Post("/clearance/forms/:id/reopen", keepers, clearance.ReopenFormHandler())
	protected.Post("/clearance/forms/:id/approve", managers, clearance.ApproveFormHandler())
	protected.Post("/clearance/forms/:id/reject", managers, clearance.RejectFormHandler())
	protected.Post("/clearance/forms/:id/process", keepers, clearance.ProcessFormHandler())

	// ERP relay
	protected.Post("/save-stock-data", keepers, jubelio.RelayHandler(erp))
	protected.Post("/save-stock-data/sync", keepers, jubelio.SyncHandler(erp))

	// Dashboard
	protected.Get("/dashboard", dashboard.DashboardHandler())
	protected.Get("/dashboard/movement-chart", dashboard.MovementChartHandler())

	// Audit
	protected.Get("/audit-logs", adminOnly, audit.ListAuditLogsHandler())
	protected.Post("/audit-logs/:id/undo", adminOnly, audit.UndoAuditLogHandler())
}
