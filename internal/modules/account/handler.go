package account

import (
	"github.com/gin-gonic/gin"

	"github.com/rakshanetra/core/internal/middleware"
	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the public auth routes and the authenticated session
// routes.
func (h *Handler) Register(public, authed *gin.RouterGroup) {
	public.POST("/login", h.login)
	public.POST("/register", h.register)
	authed.POST("/logout", h.logout)
	authed.GET("/me", h.me)
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	res, err := h.svc.Login(c.Request.Context(), body.Username, body.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if apperr.IsValidation(err) {
			response.BadRequest(c, err.Error())
			return
		}
		if apperr.IsAuthorization(err) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, res)
}

type registerBody struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	user, err := h.svc.RegisterSensorClient(c.Request.Context(), body.Username, body.Password, body.WalletAddress)
	if err != nil {
		if apperr.IsValidation(err) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{
		"username":       user.Username,
		"wallet_address": user.WalletAddress,
		"role":           user.Role,
	})
}

func (h *Handler) logout(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.Unauthorized(c)
		return
	}
	sid, _ := c.Get(middleware.ContextKeySID)
	sessionID, _ := sid.(string)
	if err := h.svc.Logout(c.Request.Context(), userID, sessionID); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) me(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.Unauthorized(c)
		return
	}
	user, err := h.svc.ByID(c.Request.Context(), userID)
	if err != nil {
		response.Unauthorized(c)
		return
	}
	response.OK(c, user)
}
