package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	recheckdomain "github.com/sadaqahq/amanah/internal/recheck/domain"
)

type recheckRequest struct {
	DonationID string `json:"donation_id"`
}

func (s *Server) RecheckDonation(c *gin.Context) {
	var req recheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	donationID, err := snowflake.ParseString(strings.TrimSpace(req.DonationID))
	if err != nil {
		AbortWithError(c, newValidationError("donation_id", "invalid_donation_id", "invalid donation_id"))
		return
	}

	result, err := s.recheckSvc.Recheck(c.Request.Context(), donationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type bulkRecheckRequest struct {
	DonationIDs []string `json:"donation_ids"`
}

// BulkRecheck streams newline-delimited JSON: one progress frame per
// batch, then a complete frame. The first frame commits the response,
// so only errors raised before the run starts map to a status code.
func (s *Server) BulkRecheck(c *gin.Context) {
	var req bulkRecheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.DonationIDs) == 0 {
		AbortWithError(c, newValidationError("donation_ids", "invalid_donation_ids", "donation_ids is required"))
		return
	}

	ids := make([]snowflake.ID, 0, len(req.DonationIDs))
	for _, raw := range req.DonationIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, newValidationError("donation_ids", "invalid_donation_ids", "invalid donation id"))
			return
		}
		ids = append(ids, id)
	}

	c.Header("Content-Type", "application/x-ndjson")
	flusher, _ := c.Writer.(http.Flusher)
	encoder := json.NewEncoder(c.Writer)

	emit := func(event recheckdomain.ProgressEvent) {
		if err := encoder.Encode(event); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := s.recheckSvc.BulkRecheck(c.Request.Context(), ids, emit); err != nil {
		if !c.Writer.Written() {
			AbortWithError(c, err)
			return
		}
		emit(recheckdomain.ProgressEvent{
			Type:  recheckdomain.EventError,
			Total: len(ids),
			Error: err.Error(),
		})
		s.alerts.Capture(c.Request.Context(), "recheck.bulk", err, map[string]any{
			"donation_count": len(ids),
		})
	}
}

func isRecheckValidationError(err error) bool {
	return errors.Is(err, recheckdomain.ErrMissingPaymentRef)
}
