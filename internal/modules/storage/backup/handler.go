package backup

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/rakshanetra/core/internal/pkg/response"
)

const maxRestoreBytes = 256 << 20

// Handler exposes backup management to admins.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.list)
	rg.POST("", h.create)
	rg.GET("/:name", h.download)
	rg.POST("/restore", h.restore)
}

func (h *Handler) list(c *gin.Context) {
	archives, err := h.svc.List()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, archives)
}

func (h *Handler) create(c *gin.Context) {
	name, err := h.svc.Create(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"name": name})
}

func (h *Handler) download(c *gin.Context) {
	path, err := h.svc.Path(c.Param("name"))
	if err != nil {
		response.NotFound(c)
		return
	}
	c.FileAttachment(path, c.Param("name"))
}

func (h *Handler) restore(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxRestoreBytes))
	if err != nil {
		response.InternalError(c, err)
		return
	}

	report, err := h.svc.Restore(c.Request.Context(), payload)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, report)
}
