package rolesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/billing"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
)

// RoleClient is the community platform surface the synchronizer needs.
type RoleClient interface {
	AddMemberRole(ctx context.Context, memberRef string) error
	RemoveMemberRole(ctx context.Context, memberRef string) error
	PostChannelMessage(ctx context.Context, channelID string, msg Message) (string, error)
}

// Synchronizer mirrors resolved-access transitions into the community
// platform's role state. It only ever acts on a transition, never on every
// event, so replayed webhooks do not produce redundant external calls.
type Synchronizer struct {
	client       RoleClient
	modChannelID string
}

// NewSynchronizer creates a synchronizer over a role client.
func NewSynchronizer(client RoleClient, modChannelID string) *Synchronizer {
	return &Synchronizer{client: client, modChannelID: modChannelID}
}

// NewSynchronizerFromEnv wires the synchronizer with the Discord bot client.
func NewSynchronizerFromEnv() *Synchronizer {
	c := NewDiscordClientFromEnv()
	return NewSynchronizer(c, c.ModChannelID)
}

// Apply carries out the role change for an access transition. It returns
// whether an external call was attempted. Credential faults are alerted and
// propagated; everything else either succeeds or comes back as a transient
// error for the caller's summary.
func (s *Synchronizer) Apply(ctx context.Context, t billing.Transition) (bool, error) {
	if !t.Changed() {
		return false, nil
	}
	if t.RoleRef == "" {
		// Nothing to grant or revoke until the user links a community account.
		log.Infof("[RoleSync] user %d has no linked community account, skipping role update", t.UserID)
		return false, nil
	}

	var err error
	if t.Current {
		err = s.client.AddMemberRole(ctx, t.RoleRef)
	} else {
		err = s.client.RemoveMemberRole(ctx, t.RoleRef)
	}
	if err != nil {
		if errors.Is(err, ErrCredential) {
			log.Errorf("[RoleSync] credential fault for user %d: %v", t.UserID, err)
			mail.NotifyModerators(
				"Community role sync credential fault",
				fmt.Sprintf("Role update for user %d (account %s) failed with a credential error:<br>%v", t.UserID, t.RoleRef, err),
			)
		}
		return true, err
	}

	s.notifyModerators(ctx, t)
	return true, nil
}

// notifyModerators posts a best-effort note about the transition to the
// moderator channel. Failures are logged and dropped; the transition itself
// already succeeded.
func (s *Synchronizer) notifyModerators(ctx context.Context, t billing.Transition) {
	if s.modChannelID == "" {
		return
	}
	verb := "revoked for"
	if t.Current {
		verb = "granted to"
	}
	msg := Message{Content: fmt.Sprintf("Member role %s <@%s> (user %d)", verb, t.RoleRef, t.UserID)}
	if _, err := s.client.PostChannelMessage(ctx, s.modChannelID, msg); err != nil {
		log.Warnf("[RoleSync] moderator note failed: %v", err)
	}
}
