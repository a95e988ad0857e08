package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	metrics "github.com/MichaelBrandt/CourseGate/internal/pkg/metrics/counter"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/rolesync"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// HandleStripeWebhook processes card/SEPA provider events. The signature is
// verified before any field of the body is trusted; after verification every
// failure returns non-2xx so Stripe's retry re-delivers the event.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := billing.VerifyStripeEvent(rawBody, sigHeader, secret)
	if err != nil {
		_ = metrics.AddWebhookRejected()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	procErr := handleStripeEvent(ctx, svc, string(event.Type), event.Data.Raw)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, procErr)
	if procErr != nil {
		log.Errorf("[Webhook] stripe %s (%s) processing failed: %v", event.Type, event.ID, procErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	_ = metrics.AddWebhookProcessed()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func handleStripeEvent(ctx context.Context, svc *billing.Service, eventType string, raw []byte) error {
	switch eventType {
	case billing.StripeEventSubscriptionCreated,
		billing.StripeEventSubscriptionUpdated,
		billing.StripeEventSubscriptionDeleted:
		var sub billing.StripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		return syncStripeSubscription(ctx, svc, eventType, &sub)

	case billing.StripeEventCheckoutCompleted:
		var sess billing.StripeCheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		if sess.Mode != "subscription" || sess.Customer == "" {
			return nil
		}
		linker := billing.NewLinker(svc.Repo())
		_, err := linker.ResolveStripeCustomer(ctx, sess.Customer, sess.Email())
		if errors.Is(err, billing.ErrNoMatch) {
			log.Infof("[Webhook] checkout for unknown customer %s, nothing to link", sess.Customer)
			return nil
		}
		return err

	default:
		// Accepted and ignored so the provider stops re-delivering.
		log.Infof("[Webhook] stripe event type %s ignored", eventType)
		return nil
	}
}

func syncStripeSubscription(ctx context.Context, svc *billing.Service, eventType string, sub *billing.StripeSubscription) error {
	linker := billing.NewLinker(svc.Repo())
	user, err := linker.ResolveStripeCustomer(ctx, sub.Customer, "")
	if err != nil {
		if errors.Is(err, billing.ErrNoMatch) {
			log.Infof("[Webhook] no linked local user for stripe customer %s, event ignored", sub.Customer)
			return nil
		}
		return err
	}

	status := billing.StripeStatusToEntitlementStatus(sub.Status, sub.CancelAtPeriodEnd)
	if eventType == billing.StripeEventSubscriptionDeleted {
		status = models.EntitlementStatusCanceled
	}

	_, transition, err := svc.ApplySubscription(ctx, billing.NormalizedSubscription{
		UserID:                 user.ID,
		Provider:               models.BillingProviderStripe,
		BillingCustomerRef:     sub.Customer,
		BillingSubscriptionRef: sub.ID,
		Status:                 status,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd(),
		CancelAt:               sub.CancelTime(),
		PriceRefs:              sub.PriceRefs(),
	})
	if err != nil {
		return err
	}

	_, err = rolesync.NewSynchronizerFromEnv().Apply(ctx, transition)
	return err
}

// HandlePayPalWebhook processes alternative-rail provider events. PayPal has
// no offline signature scheme; verification is a remote call that fails
// closed to unauthorized on any transport error.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := billing.PayPalWebhookHeaders{
		TransmissionID:   strings.TrimSpace(c.Get("Paypal-Transmission-Id")),
		TransmissionTime: strings.TrimSpace(c.Get("Paypal-Transmission-Time")),
		TransmissionSig:  strings.TrimSpace(c.Get("Paypal-Transmission-Sig")),
		CertURL:          strings.TrimSpace(c.Get("Paypal-Cert-Url")),
		AuthAlgo:         strings.TrimSpace(c.Get("Paypal-Auth-Algo")),
	}

	client := billing.NewPayPalClientFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	valid, err := client.VerifyWebhookSignature(ctx, headers, rawBody)
	if err != nil || !valid {
		if err != nil {
			log.Warnf("[Webhook] paypal signature verification errored: %v", err)
		}
		_ = metrics.AddWebhookRejected()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := billing.ParsePayPalWebhookEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderPayPal,
		ProviderEventID: event.ID,
		EventType:       event.EventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if !billing.IsPayPalSubscriptionEvent(event.EventType) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	procErr := handlePayPalSubscriptionEvent(ctx, svc, client, event)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, procErr)
	if procErr != nil {
		log.Errorf("[Webhook] paypal %s (%s) processing failed: %v", event.EventType, event.ID, procErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	_ = metrics.AddWebhookProcessed()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func handlePayPalSubscriptionEvent(ctx context.Context, svc *billing.Service, client *billing.PayPalClient, event *billing.PayPalWebhookEvent) error {
	ref := strings.TrimSpace(event.Resource.ID)
	if ref == "" {
		return errors.New("paypal event missing resource id")
	}

	// First sighting of a subscription: pull the full record from the
	// provider and try to match the subscriber email to a local user.
	if _, err := svc.Repo().GetPayPalSubscriptionByRef(ref); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		detail, err := client.GetSubscription(ctx, ref)
		if err != nil {
			return err
		}
		sub, err := svc.TrackPayPalSubscription(ctx, detail)
		if err != nil {
			return err
		}
		linker := billing.NewLinker(svc.Repo())
		if user, err := linker.MatchPayPalSubscriberEmail(ctx, sub.SubscriberEmail); err == nil {
			if err := linker.AdminLinkPayPalSubscription(ctx, user.ID, ref); err != nil && !errors.Is(err, billing.ErrAlreadyLinked) {
				return err
			}
		} else if !errors.Is(err, billing.ErrNoMatch) {
			return err
		} else {
			log.Infof("[Webhook] paypal subscription %s has no matching local user yet", ref)
		}
	}

	status := strings.ToUpper(strings.TrimSpace(event.Resource.Status))
	if status == "" {
		status = billing.PayPalEventTypeToStatus(event.EventType)
	}

	_, transition, err := svc.ApplyPayPalStatus(ctx, ref, status)
	if err != nil {
		return err
	}

	_, err = rolesync.NewSynchronizerFromEnv().Apply(ctx, transition)
	return err
}
