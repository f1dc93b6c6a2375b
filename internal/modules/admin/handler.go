package admin

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/response"
)

// Handler exposes the reconciliation panel over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/tokens", h.listTokens)
	rg.GET("/requests", h.listRequests)
	rg.POST("/grant", h.grant)
	rg.POST("/revoke", h.revoke)
	rg.POST("/refresh", h.refresh)
}

func (h *Handler) listTokens(c *gin.Context) {
	response.OK(c, h.svc.Tokens(c.Query("resource")))
}

func (h *Handler) listRequests(c *gin.Context) {
	response.OK(c, h.svc.Requests(c.Request.Context()))
}

type grantBody struct {
	UserAddress     string `json:"user_address"`
	Resource        string `json:"resource"`
	DurationSeconds int64  `json:"duration"`
}

func (h *Handler) grant(c *gin.Context) {
	var body grantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	t, err := h.svc.Grant(c.Request.Context(), body.UserAddress, body.Resource, body.DurationSeconds)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, gin.H{"token_id": t.TokenID, "tx_hash": t.TxHash, "expires_at": t.ExpiresAt})
}

type revokeBody struct {
	// Raw so malformed admin input fails local validation instead of JSON
	// decoding.
	TokenID json.RawMessage `json:"token_id"`
}

func (h *Handler) revoke(c *gin.Context) {
	var body revokeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	raw := string(body.TokenID)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	id, err := ParseTokenID(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	txHash, err := h.svc.Revoke(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"token_id": id, "tx_hash": txHash})
}

func (h *Handler) refresh(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.svc.Refresh(ctx); err != nil {
		response.InternalError(c, err)
		return
	}
	if err := h.svc.PollStatuses(ctx); err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.PollRequests(ctx); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"tokens": len(h.svc.Tokens("")), "requests": len(h.svc.Requests(ctx))})
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
