package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/rolesync"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/usercontext"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"
)

// HandleGetMembership returns the caller's resolved access state.
func HandleGetMembership(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	svc := billing.NewServiceFromDB(database.GetDB())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolution, err := svc.ResolveUser(ctx, userID)
	if err != nil {
		log.Errorf("[Billing] membership resolve for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resolve_failed"})
	}

	roleRef, err := svc.RoleRefForUser(ctx, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resolve_failed"})
	}

	resp := fiber.Map{
		"has_access":     resolution.HasAccess,
		"status":         resolution.DisplayStatus,
		"discord_linked": roleRef != "",
	}
	if start := env.ProgramStartAt(); !start.IsZero() {
		resp["program_start"] = start.UTC().Format(time.RFC3339)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

type paypalClaimRequest struct {
	SubscriptionRef string `json:"subscription_ref" validate:"required,min=3,max=64"`
}

// HandleClaimPayPalSubscription lets a logged-in user attach a PayPal
// subscription to their account. The subscriber email on the live record must
// match the account email, and a subscription can only ever belong to one user.
func HandleClaimPayPalSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req paypalClaimRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	ref := strings.TrimSpace(req.SubscriptionRef)

	svc := billing.NewServiceFromDB(database.GetDB())
	client := billing.NewPayPalClientFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	detail, err := client.GetSubscription(ctx, ref)
	if err != nil {
		log.Warnf("[Billing] paypal claim lookup for %s failed: %v", ref, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_lookup_failed"})
	}
	sub, err := svc.TrackPayPalSubscription(ctx, detail)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "claim_failed"})
	}

	linker := billing.NewLinker(svc.Repo())
	if _, err := linker.ClaimPayPalSubscription(ctx, userID, ref); err != nil {
		switch {
		case errors.Is(err, billing.ErrAlreadyLinked):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_claimed"})
		case errors.Is(err, billing.ErrNoMatch):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "email_mismatch"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "claim_failed"})
		}
	}

	// Mirror the current provider state into the entitlement and sync the
	// community role right away so the user does not wait for the sweeper.
	if _, transition, err := svc.ApplyPayPalStatus(ctx, ref, sub.Status); err != nil {
		log.Warnf("[Billing] paypal claim entitlement sync for %s failed: %v", ref, err)
	} else if _, err := rolesync.NewSynchronizerFromEnv().Apply(ctx, transition); err != nil {
		log.Warnf("[Billing] role sync after claim for user %d failed: %v", userID, err)
	}

	resolution, err := svc.ResolveUser(ctx, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resolve_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"claimed":    true,
		"has_access": resolution.HasAccess,
		"status":     resolution.DisplayStatus,
	})
}

// HandleDiscordLink starts the OAuth flow for attaching a community account.
func HandleDiscordLink(c *fiber.Ctx) error {
	return gothfiber.BeginAuthHandler(c)
}

// HandleDiscordCallback completes the OAuth flow, stores the community
// account id and replays the current access state against it, so a user who
// already pays gets the role immediately after linking.
//
// The shared user context middleware skips /auth/* routes, so the app
// session is read directly here.
func HandleDiscordCallback(c *fiber.Ctx) error {
	userID := sessionUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "login_required"})
	}

	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[Billing] discord oauth for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "oauth_failed"})
	}
	if u.UserID == "" {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "oauth_failed"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.LinkDiscordAccount(ctx, userID, u.UserID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "link_failed"})
	}

	resolution, err := svc.ResolveUser(ctx, userID)
	if err == nil && resolution.HasAccess {
		transition := billing.Transition{UserID: userID, RoleRef: u.UserID, Previous: false, Current: true}
		if _, err := rolesync.NewSynchronizerFromEnv().Apply(ctx, transition); err != nil {
			log.Warnf("[Billing] role grant after link for user %d failed: %v", userID, err)
		}
	}

	return c.Redirect("/?discord_linked=1")
}

// HandleDiscordUnlink removes the stored community account id. The role is
// revoked best-effort first; a revoke failure does not keep the link alive.
func HandleDiscordUnlink(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	svc := billing.NewServiceFromDB(database.GetDB())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	roleRef, err := svc.RoleRefForUser(ctx, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "unlink_failed"})
	}
	if roleRef == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"unlinked": true})
	}

	transition := billing.Transition{UserID: userID, RoleRef: roleRef, Previous: true, Current: false}
	if _, err := rolesync.NewSynchronizerFromEnv().Apply(ctx, transition); err != nil {
		log.Warnf("[Billing] role revoke before unlink for user %d failed: %v", userID, err)
	}

	if err := svc.LinkDiscordAccount(ctx, userID, ""); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "unlink_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"unlinked": true})
}
