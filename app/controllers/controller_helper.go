package controllers

import (
	"github.com/MichaelBrandt/CourseGate/internal/pkg/session"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

// sessionUserID reads the user id straight from the app session store. Used
// on routes the user context middleware does not cover.
func sessionUserID(c *fiber.Ctx) uint {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return 0
	}
	if v := sess.Get(usercontext.KeyUserID); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}
