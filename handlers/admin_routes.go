package handlers

import (
	"gold-accrual-engine/middleware"
	"gold-accrual-engine/models"
	"gold-accrual-engine/rates"
	"gold-accrual-engine/services"

	"github.com/gofiber/fiber/v2"
)

// AdminServices bundles what the admin routes operate on.
type AdminServices struct {
	Ledgers       *services.LedgerService
	Runner        *services.SnapshotRunner
	Health        *services.HealthAuditor
	Restoration   *services.RestorationService
	Backups       *services.BackupService
	RateConfigs   *services.RateConfigService
	Notifications *services.NotificationService
}

// SetupAdminRoutes registers the /s/admin routes. Every route requires the
// gateway user context with the admin role.
func SetupAdminRoutes(app *fiber.App, svc AdminServices) {
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	// 🩺 Health & audit
	admin.Get("/health", func(c *fiber.Ctx) error {
		report, err := svc.Health.Report(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	admin.Get("/wallets/:address/health", func(c *fiber.Ctx) error {
		wh, err := svc.Health.WalletHealth(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(wh)
	})

	admin.Get("/wallets/:address/earnings", func(c *fiber.Ctx) error {
		rec, err := svc.Health.ReconstructEarnings(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(rec)
	})

	admin.Get("/wallets/:address/snapshots", func(c *fiber.Ctx) error {
		snaps, err := svc.Health.Timeline(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"snapshots": snaps, "count": len(snaps)})
	})

	// 👛 Wallet administration
	admin.Post("/wallets/:address/verify", func(c *fiber.Ctx) error {
		var body struct {
			Verified *bool `json:"verified"`
		}
		if err := c.BodyParser(&body); err != nil || body.Verified == nil {
			return badRequest(c, "verified is required")
		}
		l, err := svc.Ledgers.MarkVerified(c.UserContext(), c.Params("address"), *body.Verified)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})

	admin.Delete("/wallets/:address", func(c *fiber.Ctx) error {
		if err := svc.Ledgers.Delete(c.UserContext(), c.Params("address")); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// 📸 Snapshots
	admin.Post("/snapshots/run", func(c *fiber.Ctx) error {
		run, err := svc.Runner.RunSnapshotCycle(c.UserContext(), models.TriggerManual)
		if err != nil {
			if run != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": err.Error(),
					"run":   run,
				})
			}
			return respondError(c, err)
		}
		return c.JSON(run)
	})

	admin.Get("/snapshots/runs", func(c *fiber.Ctx) error {
		runs, err := svc.Runner.ListRuns(c.UserContext(), c.QueryInt("limit", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	admin.Get("/snapshots/runs/last", func(c *fiber.Ctx) error {
		run, err := svc.Runner.LastRun(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(run)
	})

	admin.Post("/snapshots/:id/restore", func(c *fiber.Ctx) error {
		var body struct {
			WalletAddress string `json:"wallet_address"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid restore body")
			}
		}
		result, err := svc.Restoration.Restore(c.UserContext(), services.RestoreRequest{
			SnapshotID:    c.Params("id"),
			WalletAddress: body.WalletAddress,
			RequestedBy:   middleware.UserID(c),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	admin.Delete("/snapshots/:id", func(c *fiber.Ctx) error {
		if err := svc.Restoration.DeleteSnapshot(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// 📈 Rate curve
	admin.Get("/rate-config", func(c *fiber.Ctx) error {
		history, err := svc.RateConfigs.History(c.UserContext(), c.QueryInt("limit", 10))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"active":  svc.RateConfigs.Active(c.UserContext()),
			"history": history,
		})
	})

	admin.Put("/rate-config", func(c *fiber.Ctx) error {
		var p rates.Params
		if err := c.BodyParser(&p); err != nil {
			return badRequest(c, "invalid rate config body")
		}
		cfg, err := svc.RateConfigs.Save(c.UserContext(), p, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(cfg)
	})

	admin.Post("/rate-config/preview", func(c *fiber.Ctx) error {
		var body struct {
			Params *rates.Params `json:"params"`
			Ranks  []int         `json:"ranks"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid preview body")
			}
		}
		p := svc.RateConfigs.Active(c.UserContext())
		if body.Params != nil {
			p = *body.Params
		}
		return c.JSON(fiber.Map{
			"params":  p.Resolve(),
			"preview": svc.RateConfigs.Preview(p, body.Ranks),
		})
	})

	// 💾 Gold backups
	admin.Get("/backups", func(c *fiber.Ctx) error {
		backups, err := svc.Backups.List(c.UserContext(), c.QueryInt("limit", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"backups": backups})
	})

	admin.Post("/backups", func(c *fiber.Ctx) error {
		var req services.CreateBackupRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid backup body")
			}
		}
		req.TriggeredBy = middleware.UserID(c)
		b, err := svc.Backups.CreateBackup(c.UserContext(), req)
		if err != nil {
			return respondError(c, err)
		}
		b.Entries = nil
		return c.Status(fiber.StatusCreated).JSON(b)
	})

	admin.Get("/backups/:id/verify", func(c *fiber.Ctx) error {
		v, err := svc.Backups.VerifyBackup(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(v)
	})

	admin.Post("/backups/:id/restore", func(c *fiber.Ctx) error {
		var body struct {
			ConfirmCode string `json:"confirm_code"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "confirm_code is required")
		}
		result, err := svc.Backups.RestoreBackup(c.UserContext(), c.Params("id"), body.ConfirmCode)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	// 🔔 Notifications
	admin.Get("/notifications", func(c *fiber.Ctx) error {
		list, err := svc.Notifications.List(c.UserContext(), c.QueryBool("unread", false), c.QueryInt("limit", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"notifications": list})
	})

	admin.Patch("/notifications/:id/read", func(c *fiber.Ctx) error {
		if err := svc.Notifications.MarkRead(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
