package api

import (
	"gold_tally/internal/conversion" // Conversion workflow
	"gold_tally/internal/domain"     // Importing domain models
	"gold_tally/internal/exposure"   // Dashboard cache
	"gold_tally/internal/repository" // List filters
	"net/http"                       // HTTP status codes
	"strings"                        // String manipulation

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Decimal amounts
)

// ConversionRequestBody asks to move grams between a user's wallets
type ConversionRequestBody struct {
	UserID    uint                       `json:"user_id" binding:"required"`   // Wallet owner
	Direction domain.ConversionDirection `json:"direction" binding:"required"` // LGPW_TO_FGPW or FGPW_TO_LGPW
	GoldGrams decimal.Decimal            `json:"gold_grams"`                   // Grams to convert
}

// ReviewRequest carries optional admin notes
type ReviewRequest struct {
	Notes string `json:"notes"` // Admin notes
}

// RequestConversionHandler locks the spot price and reserves the source grams
func RequestConversionHandler(svc *conversion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConversionRequestBody // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Direction = domain.ConversionDirection(strings.ToUpper(string(req.Direction)))
		cr, err := svc.Request(c.Request.Context(), req.UserID, req.Direction, req.GoldGrams)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cr) // Return pending request
	}
}

// ListConversionsHandler pages through conversion requests
func ListConversionsHandler(svc *conversion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pagination(c) // Pagination parameters
		userID, ok := userFilter(c)
		if !ok {
			return
		}
		f := repository.ConversionFilter{
			UserID:   userID,                                                      // Optional owner
			Status:   domain.ConversionStatus(strings.ToLower(c.Query("status"))), // Optional status
			Page:     page,                                                        // Current page
			PageSize: pageSize,                                                    // Page size
		}
		items, total, err := svc.List(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversions": items,                       // Page of requests
			"page":        page,                        // Current page
			"page_size":   pageSize,                    // Page size
			"total":       total,                       // Total matches
			"total_pages": totalPages(total, pageSize), // Total pages
		})
	}
}

// GetConversionHandler returns one conversion request
func GetConversionHandler(svc *conversion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		cr, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cr)
	}
}

// ApproveConversionHandler moves the grams and the matching cash in one transaction
func ApproveConversionHandler(svc *conversion.Service, mon *exposure.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req ReviewRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		cr, err := svc.Approve(c.Request.Context(), id, actor(c), req.Notes)
		if err != nil {
			writeError(c, err)
			return
		}
		mon.Invalidate(c.Request.Context()) // Invalidate dashboard cache
		c.JSON(http.StatusOK, cr)
	}
}

// RejectConversionHandler releases the reservation
func RejectConversionHandler(svc *conversion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req ReasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cr, err := svc.Reject(c.Request.Context(), id, actor(c), req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cr)
	}
}
