package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/app/repository"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/announce"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/sweeper"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HandleReconcileSweep runs a full reconciliation pass synchronously and
// returns the summary. The route sits behind the internal secret, the
// caller is a cron job or an operator.
func HandleReconcileSweep(c *fiber.Ctx) error {
	svc := billing.NewServiceFromDB(database.GetDB())
	sw := sweeper.GetSweeper(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary := sw.Sweep(ctx)
	log.Infof("[Reconcile] sweep done: checked=%d changed=%d errors=%d", summary.Checked, summary.Changed, summary.Errors)
	return c.Status(fiber.StatusOK).JSON(summary)
}

type announceRequest struct {
	VideoID uint `json:"video_id" validate:"required,min=1"`
}

// HandleAnnounceVideo publishes the announcement for one video. Safe to call
// concurrently and to retry, only one caller ever posts the message.
func HandleAnnounceVideo(c *fiber.Ctx) error {
	var req announceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := announce.NewAnnouncerFromDB(database.GetDB()).Announce(ctx, req.VideoID)
	if err != nil {
		if errors.Is(err, announce.ErrVideoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "video_not_found"})
		}
		log.Errorf("[Announce] video %d failed: %v", req.VideoID, err)
		if result.Ok && result.MessageID != "" {
			// The message went out; only closing the claim failed. Hand the
			// id back so the admin does not lose it.
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"ok":         true,
				"message_id": result.MessageID,
				"thumbnail":  result.Thumbnail,
				"warning":    "message sent but storing its id failed",
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "announce_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

type createVideoRequest struct {
	Title        string `json:"title" validate:"required,min=1,max=255"`
	Slug         string `json:"slug" validate:"required,min=1,max=255"`
	ThumbnailURL string `json:"thumbnail_url" validate:"omitempty,url,max=500"`
	Published    bool   `json:"published"`
}

// HandleCreateVideo registers a content item so it can be announced later.
func HandleCreateVideo(c *fiber.Ctx) error {
	var req createVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	video := models.Video{
		Title:        strings.TrimSpace(req.Title),
		Slug:         strings.TrimSpace(req.Slug),
		ThumbnailURL: strings.TrimSpace(req.ThumbnailURL),
	}
	if req.Published {
		now := time.Now().UTC()
		video.PublishedAt = &now
	}

	repo := repository.GetGlobalFactory().GetVideoRepository()
	if err := repo.Create(&video); err != nil {
		log.Errorf("[Videos] create %q failed: %v", video.Slug, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(video)
}

type paypalImportRequest struct {
	SubscriptionRefs []string `json:"subscription_refs" validate:"required,min=1,dive,required"`
}

// HandlePayPalImport backfills subscriptions that predate the webhook setup.
// Each ref is fetched live and tracked; one bad ref does not abort the rest.
func HandlePayPalImport(c *fiber.Ctx) error {
	var req paypalImportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	linker := billing.NewLinker(svc.Repo())
	client := billing.NewPayPalClientFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	imported := 0
	linked := 0
	failed := make([]string, 0)
	for _, ref := range req.SubscriptionRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		detail, err := client.GetSubscription(ctx, ref)
		if err != nil {
			log.Warnf("[Import] paypal subscription %s fetch failed: %v", ref, err)
			failed = append(failed, ref)
			continue
		}
		sub, err := svc.TrackPayPalSubscription(ctx, detail)
		if err != nil {
			log.Warnf("[Import] paypal subscription %s persist failed: %v", ref, err)
			failed = append(failed, ref)
			continue
		}
		imported++

		user, err := linker.MatchPayPalSubscriberEmail(ctx, sub.SubscriberEmail)
		if err != nil {
			if !errors.Is(err, billing.ErrNoMatch) {
				log.Warnf("[Import] paypal subscription %s email match failed: %v", ref, err)
			}
			continue
		}
		if err := linker.AdminLinkPayPalSubscription(ctx, user.ID, ref); err != nil {
			if !errors.Is(err, billing.ErrAlreadyLinked) {
				log.Warnf("[Import] paypal subscription %s link failed: %v", ref, err)
			}
			continue
		}
		if _, _, err := svc.ApplyPayPalStatus(ctx, ref, sub.Status); err != nil {
			log.Warnf("[Import] paypal subscription %s entitlement sync failed: %v", ref, err)
		}
		linked++
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"imported": imported,
		"linked":   linked,
		"failed":   failed,
	})
}
