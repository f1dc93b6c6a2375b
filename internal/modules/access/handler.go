package access

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/middleware"
	"github.com/rakshanetra/core/internal/modules/account"
	"github.com/rakshanetra/core/internal/modules/admin"
	"github.com/rakshanetra/core/internal/modules/authz"
	"github.com/rakshanetra/core/internal/modules/gate"
	"github.com/rakshanetra/core/internal/modules/telemetry"
	"github.com/rakshanetra/core/internal/modules/token"
	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/response"
)

// Handler is the principal-facing surface: requesting access, checking
// tokens, and driving the per-principal gate session.
type Handler struct {
	mirror    admin.RequestMirror
	authz     *authz.Client
	tokens    *token.Service
	gates     *gate.Manager
	telemetry *telemetry.Service
	accounts  *account.Service
	sensorKey string
	logger    *zap.Logger
}

func NewHandler(mirror admin.RequestMirror, az *authz.Client, tokens *token.Service, gates *gate.Manager,
	tel *telemetry.Service, accounts *account.Service, sensorKey string, logger *zap.Logger) *Handler {
	return &Handler{
		mirror:    mirror,
		authz:     az,
		tokens:    tokens,
		gates:     gates,
		telemetry: tel,
		accounts:  accounts,
		sensorKey: sensorKey,
		logger:    logger.Named("access"),
	}
}

// Register mounts routes. authed requires a signed-in principal; ingest is
// authenticated by the shared sensor key instead.
func (h *Handler) Register(authed, ingest *gin.RouterGroup) {
	authed.POST("/request", h.submitRequest)
	authed.GET("/check/:tokenId", h.check)
	authed.GET("/status/:tokenId", h.status)
	authed.POST("/gate/open", h.openGate)
	authed.GET("/gate", h.gateStatus)
	authed.DELETE("/gate", h.closeGate)
	authed.GET("/telemetry/:resource/window", h.window)
	ingest.POST("/readings", h.ingest)
}

func (h *Handler) principal(c *gin.Context) (string, bool) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.Unauthorized(c)
		return "", false
	}
	user, err := h.accounts.ByID(c.Request.Context(), userID)
	if err != nil || user.WalletAddress == "" {
		response.ForbiddenMsg(c, "account has no wallet address")
		return "", false
	}
	return user.WalletAddress, true
}

type requestBody struct {
	Resource        string `json:"resource"`
	DurationSeconds int64  `json:"duration"`
}

func (h *Handler) submitRequest(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	req := authz.PendingRequest{
		UserAddress:     principal,
		Resource:        body.Resource,
		DurationSeconds: body.DurationSeconds,
	}
	if err := h.authz.SubmitRequest(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}

	// Mirror locally so the admin pending view carries the request before its
	// next queue poll.
	if err := h.mirror.Record(c.Request.Context(), principal, body.Resource, body.DurationSeconds); err != nil {
		h.logger.Warn("mirror access request", zap.Error(err))
	}

	response.Created(c, req)
}

func (h *Handler) check(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("tokenId"), 10, 64)
	if err != nil || id < 0 {
		response.BadRequest(c, "token id must be a non-negative integer")
		return
	}
	valid, err := h.authz.Check(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"token_id": id, "valid": valid})
}

// status resolves a token against the local clock and the stored status,
// without a round trip to the authorization service.
func (h *Handler) status(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("tokenId"), 10, 64)
	if err != nil || id < 0 {
		response.BadRequest(c, "token id must be a non-negative integer")
		return
	}
	t, err := h.tokens.ByTokenID(c.Request.Context(), id)
	if err != nil {
		response.NotFoundMsg(c, "unknown token")
		return
	}
	v := token.Resolve(t, time.Now(), nil)
	response.OK(c, gin.H{
		"token_id":          t.TokenID,
		"status":            t.Status,
		"valid":             v.Valid,
		"remaining_seconds": v.RemainingSeconds,
	})
}

func (h *Handler) openGate(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	s, err := h.gates.Ensure(c.Request.Context(), principal)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, s.Status())
}

func (h *Handler) gateStatus(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	s, running := h.gates.Get(principal)
	if !running {
		response.OK(c, gate.Status{Principal: principal, State: gate.StateIdle, AsOf: time.Now()})
		return
	}
	response.OK(c, s.Status())
}

func (h *Handler) closeGate(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	h.gates.Teardown(principal)
	response.NoContent(c)
}

// window returns the rolling readings window, gated on a currently valid
// token for the resource.
func (h *Handler) window(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	resource := c.Param("resource")

	active, err := h.tokens.ActiveTokens(c.Request.Context(), principal, time.Now())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	allowed := false
	for i := range active {
		if active[i].Resource == resource && token.Resolve(&active[i], time.Now(), nil).Valid {
			allowed = true
			break
		}
	}
	if !allowed {
		response.ForbiddenMsg(c, "no valid token for this resource")
		return
	}

	readings, err := h.telemetry.Window(c.Request.Context(), resource)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, readings)
}

func (h *Handler) ingest(c *gin.Context) {
	if h.sensorKey == "" || c.GetHeader("X-Sensor-Key") != h.sensorKey {
		response.Unauthorized(c)
		return
	}
	var r telemetry.Reading
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, "invalid reading")
		return
	}
	if err := h.telemetry.Ingest(c.Request.Context(), &r); err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, gin.H{"id": r.ID, "resource": r.Resource})
}

func writeError(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		response.BadRequest(c, err.Error())
	case apperr.IsNetwork(err):
		response.BadGateway(c, err.Error())
	case apperr.IsAuthorization(err):
		response.UnprocessableEntity(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
