package handler

import (
	"context"  // provides context with cancellation for store calls
	"errors"   // errors matches repository sentinels
	"net/http" // HTTP status codes and primitives
	"strings"  // string manipulation utilities
	"time"     // timeouts for store calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/cinema-tickets/internal/logging"    // request-scoped logger
	"github.com/iliyamo/cinema-tickets/internal/model"      // user and role types
	"github.com/iliyamo/cinema-tickets/internal/repository" // user store and its errors
	"github.com/iliyamo/cinema-tickets/internal/service"    // error kinds for responses
	"github.com/iliyamo/cinema-tickets/internal/utils"      // password hashing and token issuing
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users      repository.UserStore
	Secret     string
	AccessTTL  time.Duration
	BcryptCost int
}

func NewAuthHandler(users repository.UserStore, secret string, ttl time.Duration, bcryptCost int) *AuthHandler {
	return &AuthHandler{Users: users, Secret: secret, AccessTTL: ttl, BcryptCost: bcryptCost}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // user | manager, defaults to user
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID       uint64     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Role     model.Role `json:"role"`
}

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6
)

// Register creates a user.  Tokens are issued by Login only.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case len(req.Username) < minUsernameLen || len(req.Username) > maxUsernameLen:
		return badRequest(c, "username must be 3 to 64 characters")
	case len(req.Password) < minPasswordLen:
		return badRequest(c, "password must be at least 6 characters")
	case req.Email != "" && !strings.Contains(req.Email, "@"):
		return badRequest(c, "email is invalid")
	}
	role := model.RoleUser
	if r := strings.ToLower(strings.TrimSpace(req.Role)); r != "" {
		role = model.Role(r)
		if !role.Valid() {
			return badRequest(c, "role must be user or manager")
		}
	}

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u := model.User{Username: req.Username, Email: req.Email, PasswordHash: hash, Role: role}
	if err := h.Users.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return c.JSON(http.StatusConflict, errorBody{Kind: service.KindConflict, Message: "username already exists"})
		}
		return writeError(c, err)
	}
	logging.FromContext(ctx, nil).WithField("user_id", u.ID).Info("user registered")
	return c.JSON(http.StatusCreated, userPart{ID: u.ID, Username: u.Username, Role: u.Role})
}

// Login verifies the password and returns an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "username/password required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return invalidCredentials(c)
		}
		return writeError(c, err)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return invalidCredentials(c)
	}

	access, err := utils.NewAccessToken(h.Secret, u.ID, string(u.Role), u.Username, h.AccessTTL)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tokenPart{Token: access.Token, Expires: access.Exp})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	p := principal(c)
	if p == nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Kind: service.KindUnauthorized, Message: "authentication required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetUserByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// token outlived its user
			return c.JSON(http.StatusUnauthorized, errorBody{Kind: service.KindUnauthorized, Message: "unknown user"})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, userPart{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role})
}

func invalidCredentials(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorBody{Kind: service.KindUnauthorized, Message: "invalid credentials"})
}
