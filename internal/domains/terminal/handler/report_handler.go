package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/shared/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportHandler struct {
	reports service.ReportService
}

func NewReportHandler(reports service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ExportCommissions streams the commission workbook for a day range
// GET /api/v1/terminal/reports/commissions?from=2026-05-01&to=2026-05-31
func (h *ReportHandler) ExportCommissions(c *gin.Context) {
	var req model.CommissionReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "from and to query parameters are required (YYYY-MM-DD)")
		return
	}

	f, err := h.reports.ExportCommissions(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("commissions_%s_%s.xlsx", req.From, req.To)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", xlsxContentType)
	c.Status(http.StatusOK)

	if err := f.Write(c.Writer); err != nil {
		log.Error().Err(err).Str("file", filename).Msg("[REPORT] Failed to stream workbook")
	}
}
