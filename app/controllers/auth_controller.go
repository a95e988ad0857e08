package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/session"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/usercontext"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister creates a new account. Billing state attaches later, either
// through a webhook email match or a self-service claim.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	db := database.GetDB()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "register_failed"})
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}
	user.Status = models.STATUS_ACTIVE
	if err := db.Create(user).Error; err != nil {
		log.Errorf("[Auth] register for %s failed: %v", email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "register_failed"})
	}

	if err := startSession(c, user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email})
}

// HandleLogin authenticates against the stored bcrypt hash and opens a session.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	db := database.GetDB()
	var user models.User
	if err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}
	if !models.CheckPasswordHash(req.Password, user.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}
	if user.Status == models.STATUS_DISABLED {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_disabled"})
	}

	if err := startSession(c, &user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_failed"})
	}
	_ = db.Model(&user).UpdateColumn("last_login_at", time.Now()).Error

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email})
}

// HandleLogout tears down the session.
func HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func startSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)
	return sess.Save()
}
