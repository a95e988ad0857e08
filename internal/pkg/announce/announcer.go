package announce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/rolesync"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// MessagePoster publishes a channel message and returns its platform id.
type MessagePoster interface {
	PostChannelMessage(ctx context.Context, channelID string, msg rolesync.Message) (string, error)
}

// Result is the outcome of an announcement attempt.
type Result struct {
	Ok               bool   `json:"ok"`
	AlreadyAnnounced bool   `json:"already_announced,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
	Thumbnail        string `json:"thumbnail,omitempty"`
}

// Announcer publishes a "new content" notification exactly once per video.
// The claim on the video row is the only duplicate protection: the publish
// call itself is never retried, because a duplicate message is worse than a
// failed attempt that can be re-claimed.
type Announcer struct {
	store     ClaimStore
	poster    MessagePoster
	channelID string
	baseURL   string

	Now func() time.Time
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(store ClaimStore, poster MessagePoster, channelID, baseURL string) *Announcer {
	return &Announcer{
		store:     store,
		poster:    poster,
		channelID: channelID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		Now:       time.Now,
	}
}

// NewAnnouncerFromDB wires the announcer with the Discord bot client.
func NewAnnouncerFromDB(db *gorm.DB) *Announcer {
	client := rolesync.NewDiscordClientFromEnv()
	return NewAnnouncer(NewClaimStore(db), client, client.AnnounceChannelID, env.GetEnv("PUBLIC_DOMAIN", ""))
}

// ErrVideoNotFound is returned for an unknown video id.
var ErrVideoNotFound = errors.New("announce: video not found")

// Announce claims the announcement slot for a video and publishes the
// notification. Exactly one of N concurrent callers wins the claim and
// publishes; everyone else gets the stored (or pending) result back. A
// failed publish rolls the claim back so a later call can try again.
func (a *Announcer) Announce(ctx context.Context, videoID uint) (Result, error) {
	video, err := a.store.GetVideoByID(videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, ErrVideoNotFound
		}
		return Result{}, err
	}

	if video.IsAnnounced() {
		return Result{Ok: true, AlreadyAnnounced: true, MessageID: video.AnnouncementMessageID}, nil
	}

	claimed, err := a.store.ClaimAnnouncement(videoID, a.Now())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		// Someone else won the slot. Their publish may still be in flight,
		// in which case the message id is empty for now.
		current, err := a.store.GetVideoByID(videoID)
		if err != nil {
			return Result{}, err
		}
		return Result{Ok: true, AlreadyAnnounced: true, MessageID: current.AnnouncementMessageID}, nil
	}

	msg := rolesync.Message{
		Content:      fmt.Sprintf("Neues Video: **%s**\n%s/videos/%s", video.Title, a.baseURL, video.Slug),
		ThumbnailURL: video.ThumbnailURL,
	}
	messageID, err := a.poster.PostChannelMessage(ctx, a.channelID, msg)
	if err != nil {
		// Nothing was confirmed sent; give the slot back for a retry.
		if rbErr := a.store.ReleaseClaim(videoID); rbErr != nil {
			log.Errorf("[Announce] claim rollback for video %d failed: %v", videoID, rbErr)
		}
		return Result{}, fmt.Errorf("announce publish failed: %w", err)
	}

	if err := a.store.CompleteClaim(videoID, messageID); err != nil {
		// The message IS out. Keep the claim held rather than rolling back,
		// otherwise a retry would publish a duplicate.
		log.Errorf("[Announce] storing message id %s for video %d failed: %v", messageID, videoID, err)
		return Result{Ok: true, MessageID: messageID, Thumbnail: video.ThumbnailURL}, err
	}

	return Result{Ok: true, MessageID: messageID, Thumbnail: video.ThumbnailURL}, nil
}
