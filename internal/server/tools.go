package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"concierge/internal/leases"
)

// LeaseDirectory is the lease/tenant lookup surface the tool routes
// call into. *leases.Store satisfies it.
type LeaseDirectory interface {
	VerifyTenant(ctx context.Context, tenantName string) (int64, bool, error)
	VerifyApartment(ctx context.Context, tenantName, apartmentNumber string) (bool, error)
	VerifyPhone(ctx context.Context, tenantName, phoneNumber string) (bool, error)
	TenantEmail(ctx context.Context, tenantName, apartmentNumber string) (string, error)
	LeaseDetails(ctx context.Context, tenantName, apartmentNumber string) (*leases.LeaseDetails, error)
	RentStatus(ctx context.Context, tenantName, apartmentNumber string) (*leases.RentStatus, error)
}

// CodeMailer delivers one-time codes. *notify.Mailer satisfies it.
type CodeMailer interface {
	SendOTP(to, code string) error
}

type tenantVerifyRequest struct {
	TenantName      string `json:"tenant_name" binding:"required"`
	ApartmentNumber string `json:"apartment_number"`
	PhoneNumber     string `json:"phone_number"`
}

// handleTenantVerify checks the caller's identity claims against the
// lease records. Every supplied field must match for a positive answer.
func (s *Server) handleTenantVerify(c *gin.Context) {
	if s.deps.Leases == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req tenantVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	tenantID, verified, err := s.deps.Leases.VerifyTenant(ctx, req.TenantName)
	if err != nil {
		s.logger.Error("tenant verify failed", "tenant", req.TenantName, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to verify tenant")
		return
	}
	if verified && req.ApartmentNumber != "" {
		verified, err = s.deps.Leases.VerifyApartment(ctx, req.TenantName, req.ApartmentNumber)
		if err != nil {
			s.logger.Error("apartment verify failed", "tenant", req.TenantName, "error", err)
			abortWithError(c, http.StatusInternalServerError, "Failed to verify tenant")
			return
		}
	}
	if verified && req.PhoneNumber != "" {
		verified, err = s.deps.Leases.VerifyPhone(ctx, req.TenantName, req.PhoneNumber)
		if err != nil {
			s.logger.Error("phone verify failed", "tenant", req.TenantName, "error", err)
			abortWithError(c, http.StatusInternalServerError, "Failed to verify tenant")
			return
		}
	}

	resp := gin.H{"verified": verified}
	if verified {
		resp["tenant_id"] = tenantID
	}
	c.JSON(http.StatusOK, resp)
}

type leaseLookupRequest struct {
	TenantName      string `json:"tenant_name" binding:"required"`
	ApartmentNumber string `json:"apartment_number" binding:"required"`
}

func (s *Server) handleLeaseDetails(c *gin.Context) {
	if s.deps.Leases == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req leaseLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	details, err := s.deps.Leases.LeaseDetails(c.Request.Context(), req.TenantName, req.ApartmentNumber)
	if errors.Is(err, leases.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "No lease found for this tenant")
		return
	}
	if err != nil {
		s.logger.Error("lease details lookup failed", "tenant", req.TenantName, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve lease details")
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) handleRentStatus(c *gin.Context) {
	if s.deps.Leases == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req leaseLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	status, err := s.deps.Leases.RentStatus(c.Request.Context(), req.TenantName, req.ApartmentNumber)
	if errors.Is(err, leases.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "No lease found for this tenant")
		return
	}
	if err != nil {
		s.logger.Error("rent status lookup failed", "tenant", req.TenantName, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve rent status")
		return
	}
	c.JSON(http.StatusOK, status)
}

type rentOfferRequest struct {
	MaxRent   float64 `json:"max_rent" binding:"required,gt=0"`
	MinRent   float64 `json:"min_rent" binding:"required,gt=0"`
	Iteration int     `json:"iteration" binding:"min=0"`
}

// handleRentOffer computes the next negotiation offer. Pure arithmetic,
// so it needs no backing store.
func (s *Server) handleRentOffer(c *gin.Context) {
	var req rentOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"offer": leases.SteppedOffer(req.MaxRent, req.MinRent, req.Iteration),
	})
}

type otpSendRequest struct {
	TenantName      string `json:"tenant_name" binding:"required"`
	ApartmentNumber string `json:"apartment_number" binding:"required"`
}

// handleOTPSend issues a one-time code for the tenant on record and
// mails it to the lease's email address.
func (s *Server) handleOTPSend(c *gin.Context) {
	if s.deps.Leases == nil || s.deps.OTP == nil || s.deps.Mailer == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req otpSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	email, err := s.deps.Leases.TenantEmail(c.Request.Context(), req.TenantName, req.ApartmentNumber)
	if errors.Is(err, leases.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "No lease found for this tenant")
		return
	}
	if err != nil {
		s.logger.Error("tenant email lookup failed", "tenant", req.TenantName, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to send verification code")
		return
	}

	code, err := s.deps.OTP.Create(email)
	if err != nil {
		s.logger.Error("otp creation failed", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to send verification code")
		return
	}
	if err := s.deps.Mailer.SendOTP(email, code); err != nil {
		s.logger.Error("otp delivery failed", "email", email, "error", err)
		abortWithError(c, http.StatusBadGateway, "Failed to send verification code")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Verification code sent",
		"email":   email,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
}

type otpVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) handleOTPVerify(c *gin.Context) {
	if s.deps.OTP == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verified": s.deps.OTP.Verify(req.Email, req.Code),
	})
}
