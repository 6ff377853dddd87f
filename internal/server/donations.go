package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	"github.com/sadaqahq/amanah/pkg/db/pagination"
)

func (s *Server) CreateDonation(c *gin.Context) {
	var req donationdomain.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.donationSvc.Create(c.Request.Context(), donationdomain.CreateDonationRequest{
		Kind:       req.Kind,
		DonorName:  strings.TrimSpace(req.DonorName),
		DonorEmail: strings.TrimSpace(req.DonorEmail),
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDonationByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.donationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListDonations(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status         string `form:"status"`
		Kind           string `form:"kind"`
		SubscriptionID string `form:"subscription_id"`
		DonorEmail     string `form:"donor_email"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := donationdomain.ListDonationRequest{
		Status:     donationdomain.Status(strings.TrimSpace(query.Status)),
		Kind:       donationdomain.Kind(strings.TrimSpace(query.Kind)),
		DonorEmail: strings.TrimSpace(query.DonorEmail),
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   query.PageSize,
	}
	if raw := strings.TrimSpace(query.SubscriptionID); raw != "" {
		subscriptionID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
			return
		}
		req.SubscriptionID = &subscriptionID
	}

	resp, err := s.donationSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Donations, "page_info": resp.PageInfo})
}

func (s *Server) ListDonationRechecks(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Ensure unknown donations read as 404 rather than an empty list.
	if _, err := s.donationSvc.Get(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.donationSvc.ListRechecks(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) RefundDonation(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.donationSvc.Refund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func parseIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "invalid id")
	}
	return id, nil
}

func isDonationValidationError(err error) bool {
	switch {
	case errors.Is(err, donationdomain.ErrInvalidAmount),
		errors.Is(err, donationdomain.ErrInvalidDonor),
		errors.Is(err, donationdomain.ErrInvalidTransition),
		errors.Is(err, donationdomain.ErrRefundNotCompleted),
		errors.Is(err, donationdomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isDonationNotFoundError(err error) bool {
	return errors.Is(err, donationdomain.ErrDonationNotFound)
}
