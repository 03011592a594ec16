package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mbeckert/subhub/app/models"
	"github.com/mbeckert/subhub/app/repository"
	"github.com/mbeckert/subhub/internal/pkg/database"
	"github.com/mbeckert/subhub/internal/pkg/env"
	"github.com/mbeckert/subhub/internal/pkg/payments"
	"github.com/mbeckert/subhub/internal/pkg/subscriptions"
	"github.com/mbeckert/subhub/internal/pkg/usercontext"
)

var (
	billingService *subscriptions.Service
	billingOnce    sync.Once
	validate       = validator.New()
)

// SetBillingService injects the subscription service. main wires the real
// one; tests inject their own.
func SetBillingService(svc *subscriptions.Service) {
	billingService = svc
}

// getBillingService falls back to a DB-backed service without notifications
// when none was injected.
func getBillingService() *subscriptions.Service {
	billingOnce.Do(func() {
		if billingService == nil {
			billingService = subscriptions.NewServiceFromDB(database.GetDB(), payments.NewClientFromEnv(), nil)
		}
	})
	return billingService
}

// SubscribeRequest is the body of POST /api/v1/billing/subscribe.
type SubscribeRequest struct {
	PlanID      uint   `json:"plan_id" validate:"required"`
	PaymentType string `json:"payment_type" validate:"required,oneof=monthly yearly"`
	SuccessURL  string `json:"success_url" validate:"omitempty,url"`
	CancelURL   string `json:"cancel_url" validate:"omitempty,url"`
}

// HandleListPlans returns the published plan catalog. Public, no auth.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPlanRepository().ListPublished()
	if err != nil {
		return internalError(c, "Failed to load plans", err)
	}

	return c.JSON(fiber.Map{"success": true, "data": plans})
}

// HandleCurrentSubscription returns the caller's active subscription, or an
// empty body when there is none.
func HandleCurrentSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	sub, err := getBillingService().Current(c.Context(), userID)
	if err != nil {
		return internalError(c, "Failed to load subscription", err)
	}
	if sub == nil {
		return c.JSON(fiber.Map{"success": true, "data": nil})
	}

	plan, err := repository.GetGlobalFactory().GetPlanRepository().GetByID(sub.PlanID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return internalError(c, "Failed to load plan", err)
	}

	resp := fiber.Map{"success": true, "data": sub}
	if plan != nil {
		resp["plan"] = plan
	}
	return c.JSON(resp)
}

// HandleCancel terminates the caller's active subscription.
func HandleCancel(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	if err := getBillingService().Cancel(ctx, userID); err != nil {
		if errors.Is(err, subscriptions.ErrNoActiveSubscription) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active subscription"})
		}
		return internalError(c, "Failed to cancel subscription", err)
	}

	return c.JSON(fiber.Map{"success": true, "message": "subscription " + models.SubscriptionStatusCancelled})
}

// HandleSubscribe starts a checkout for a plan and returns the provider
// checkout URL the client should redirect to.
func HandleSubscribe(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 20*time.Second)
	defer cancel()

	out, err := getBillingService().StartCheckout(ctx, subscriptions.CheckoutRequest{
		UserID:        userID,
		PlanID:        req.PlanID,
		BillingPeriod: req.PaymentType,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		if errors.Is(err, subscriptions.ErrPlanNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return internalError(c, "Failed to start checkout", err)
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"session_id":     out.SessionID,
		"checkout_url":   out.CheckoutURL,
		"transaction_id": out.TransactionRef,
	})
}

// internalError hides failure detail from clients outside development.
func internalError(c *fiber.Ctx, msg string, err error) error {
	log.Errorf("[Billing] %s: %v", msg, err)
	body := fiber.Map{"error": "internal_server_error", "message": msg}
	if env.IsDev() {
		body["detail"] = err.Error()
	}
	return c.Status(fiber.StatusInternalServerError).JSON(body)
}
