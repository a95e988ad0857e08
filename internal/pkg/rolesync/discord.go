package rolesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
)

const defaultDiscordAPIBaseURL = "https://discord.com/api/v10"

// ErrCredential signals a 401/403 from the community platform. It is never
// treated as a benign "nothing to do" outcome: the bot credential or its
// permissions are broken and a human has to look at it.
var ErrCredential = errors.New("rolesync: community platform rejected bot credential")

// DiscordClient talks to the community platform's member/role management
// surface with a bot credential.
type DiscordClient struct {
	BotToken          string
	GuildID           string
	MemberRoleID      string
	AnnounceChannelID string
	ModChannelID      string

	APIBaseURL string

	HTTPClient *http.Client
}

func NewDiscordClientFromEnv() *DiscordClient {
	return &DiscordClient{
		BotToken:          strings.TrimSpace(env.GetEnv("DISCORD_BOT_TOKEN", "")),
		GuildID:           strings.TrimSpace(env.GetEnv("DISCORD_GUILD_ID", "")),
		MemberRoleID:      strings.TrimSpace(env.GetEnv("DISCORD_MEMBER_ROLE_ID", "")),
		AnnounceChannelID: strings.TrimSpace(env.GetEnv("DISCORD_ANNOUNCE_CHANNEL_ID", "")),
		ModChannelID:      strings.TrimSpace(env.GetEnv("DISCORD_MOD_CHANNEL_ID", "")),
		APIBaseURL:        strings.TrimSpace(env.GetEnv("DISCORD_API_BASE_URL", defaultDiscordAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *DiscordClient) configured() error {
	if c.BotToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is not configured")
	}
	if c.GuildID == "" || c.MemberRoleID == "" {
		return errors.New("DISCORD_GUILD_ID/DISCORD_MEMBER_ROLE_ID are not configured")
	}
	return nil
}

// AddMemberRole grants the member role to a guild member. The PUT is
// idempotent on Discord's side, so "role already present" is a plain 204.
// An unknown member (404) means there is nothing to grant yet and counts as
// success; the role is granted once the user joins the guild and relinks.
func (c *DiscordClient) AddMemberRole(ctx context.Context, memberRef string) error {
	if err := c.configured(); err != nil {
		return err
	}
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.GuildID, strings.TrimSpace(memberRef), c.MemberRoleID)
	return c.doRoleCall(ctx, http.MethodPut, path)
}

// RemoveMemberRole revokes the member role. "Member not found" and "role not
// held" both come back as 404/204 and count as success.
func (c *DiscordClient) RemoveMemberRole(ctx context.Context, memberRef string) error {
	if err := c.configured(); err != nil {
		return err
	}
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.GuildID, strings.TrimSpace(memberRef), c.MemberRoleID)
	return c.doRoleCall(ctx, http.MethodDelete, path)
}

const roleCallAttempts = 3

// doRoleCall performs an idempotent role mutation with bounded retries on
// transient failures. 401/403 is surfaced as ErrCredential immediately,
// other 4xx are benign "nothing to do" outcomes.
func (c *DiscordClient) doRoleCall(ctx context.Context, method, path string) error {
	var lastErr error
	for attempt := 0; attempt < roleCallAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.APIBaseURL, "/")+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.BotToken)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: status=%d body=%s", ErrCredential, resp.StatusCode, string(body))
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			// Unknown member, unknown role, role not held: nothing to do.
			return nil
		default:
			lastErr = fmt.Errorf("discord role call failed: status=%d body=%s", resp.StatusCode, string(body))
		}
	}
	return lastErr
}

// Message is an outbound channel message. Thumbnail, when set, is attached
// as an embed image.
type Message struct {
	Content      string
	ThumbnailURL string
}

// PostChannelMessage publishes a message and returns the platform message id.
// This call is NOT retried internally: publishing is not idempotent and is
// protected by the announcement claim instead.
func (c *DiscordClient) PostChannelMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	if c.BotToken == "" {
		return "", errors.New("DISCORD_BOT_TOKEN is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", errors.New("channel id is required")
	}

	payload := map[string]interface{}{
		"content": msg.Content,
	}
	if msg.ThumbnailURL != "" {
		payload["embeds"] = []map[string]interface{}{
			{"image": map[string]string{"url": msg.ThumbnailURL}},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/channels/" + channelID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bot "+c.BotToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrCredential, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("discord message post failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("discord message response missing id")
	}
	return out.ID, nil
}
