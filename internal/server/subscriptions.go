package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sadaqahq/amanah/internal/identity"
	subscriptiondomain "github.com/sadaqahq/amanah/internal/subscription/domain"
	"github.com/sadaqahq/amanah/pkg/db/pagination"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		DonorName:   strings.TrimSpace(req.DonorName),
		DonorEmail:  strings.TrimSpace(req.DonorEmail),
		UserID:      req.UserID,
		Cadence:     strings.TrimSpace(req.Cadence),
		Amount:      req.Amount,
		Currency:    strings.TrimSpace(req.Currency),
		TotalCycles: req.TotalCycles,
		PlanID:      strings.TrimSpace(req.PlanID),
		CustomerID:  strings.TrimSpace(req.CustomerID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status     string `form:"status"`
		DonorEmail string `form:"donor_email"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), subscriptiondomain.ListSubscriptionRequest{
		Status:     subscriptiondomain.Status(strings.TrimSpace(query.Status)),
		DonorEmail: strings.TrimSpace(query.DonorEmail),
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Subscriptions, "page_info": resp.PageInfo})
}

type transitionRequest struct {
	Reason     string `json:"reason"`
	AdminNotes string `json:"admin_notes"`
}

// bindTransitionRequest reads the optional {reason, admin_notes} body.
// Notes from non-admin callers are dropped downstream.
func bindTransitionRequest(c *gin.Context) (subscriptiondomain.TransitionRequest, bool) {
	var req transitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return subscriptiondomain.TransitionRequest{}, false
		}
	}
	return subscriptiondomain.TransitionRequest{
		Reason:     strings.TrimSpace(req.Reason),
		AdminNotes: strings.TrimSpace(req.AdminNotes),
	}, true
}

// authorizeSubscriptionActor lets admins and the system through, and
// donors only when the pledge carries their user id.
func (s *Server) authorizeSubscriptionActor(c *gin.Context, id snowflake.ID) error {
	actor := identity.ActorFromContext(c.Request.Context())
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}

	subscription, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		return err
	}
	if subscription.UserID != nil && actor.ID != "" && *subscription.UserID == actor.ID {
		return nil
	}
	return ErrForbidden
}

func (s *Server) PauseSubscription(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeSubscriptionActor(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	req, ok := bindTransitionRequest(c)
	if !ok {
		return
	}

	item, err := s.subscriptionSvc.Pause(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeSubscriptionActor(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	req, ok := bindTransitionRequest(c)
	if !ok {
		return
	}

	item, err := s.subscriptionSvc.Resume(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeSubscriptionActor(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	req, ok := bindTransitionRequest(c)
	if !ok {
		return
	}

	item, err := s.subscriptionSvc.Cancel(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func isSubscriptionValidationError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrInvalidCadence),
		errors.Is(err, subscriptiondomain.ErrInvalidAmount),
		errors.Is(err, subscriptiondomain.ErrInvalidDonor),
		errors.Is(err, subscriptiondomain.ErrInvalidCycles),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrNothingToResume),
		errors.Is(err, subscriptiondomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isSubscriptionNotFoundError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound)
}
