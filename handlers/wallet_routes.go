package handlers

import (
	"time"

	"gold-accrual-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// SetupWalletRoutes registers the player-facing ledger routes. They are
// called by gameplay services through the Gateway and carry no user context.
func SetupWalletRoutes(app *fiber.App, ledgers *services.LedgerService) {
	wallets := app.Group("/wallets")

	wallets.Post("/:address/connect", func(c *fiber.Ctx) error {
		l, created, err := ledgers.GetOrCreate(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{
			"ledger":  l,
			"created": created,
		})
	})

	wallets.Get("/:address/ledger", func(c *fiber.Ctx) error {
		l, err := ledgers.Get(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})

	wallets.Post("/:address/spend", func(c *fiber.Ctx) error {
		var body struct {
			Amount decimal.Decimal `json:"amount"`
			Reason string          `json:"reason"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid spend body")
		}
		l, err := ledgers.Spend(c.UserContext(), c.Params("address"), body.Amount, body.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})

	wallets.Post("/:address/activity", func(c *fiber.Ctx) error {
		var body struct {
			At *time.Time `json:"at"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid activity body")
			}
		}
		var at time.Time
		if body.At != nil {
			at = body.At.UTC()
		}
		l, err := ledgers.Touch(c.UserContext(), c.Params("address"), at)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(l)
	})
}
