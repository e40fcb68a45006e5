package api

import (
	"gold_tally/internal/domain"     // Importing domain models
	"gold_tally/internal/exposure"   // Dashboard cache
	"gold_tally/internal/repository" // List filters
	"gold_tally/internal/tally"      // Tally state machine
	"net/http"                       // HTTP status codes
	"strings"                        // String manipulation

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Decimal amounts
)

// OpenTallyRequest is a captured payment from the intake adapter
type OpenTallyRequest struct {
	UserID        uint                 `json:"user_id" binding:"required"`        // Depositing user
	WalletType    domain.WalletType    `json:"wallet_type" binding:"required"`    // LGPW or FGPW
	DepositMethod domain.DepositMethod `json:"deposit_method" binding:"required"` // CARD, BANK, CRYPTO, VAULT_GOLD
	Amount        decimal.Decimal      `json:"amount"`                            // Cash amount or inspected grams
	Currency      string               `json:"currency"`                          // Cash deposits only
	VaultLocation string               `json:"vault_location"`                    // Physical deposits only
	Reference     string               `json:"payment_reference"`                 // Gateway or inspection reference
}

// ConfirmPaymentRequest carries the confirmed payment reference
type ConfirmPaymentRequest struct {
	Reference       string          `json:"payment_reference" binding:"required"` // Reference from the gateway
	ConfirmedAmount decimal.Decimal `json:"confirmed_amount"`                     // Optional settled amount
}

// ReasonRequest carries a rejection reason
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"` // Why the item was rejected
}

// OpenTallyHandler creates a tally from a pending payment
func OpenTallyHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenTallyRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := domain.NewPendingPayment(req.DepositMethod, req.UserID, req.WalletType, req.Amount, req.Currency, req.VaultLocation, req.Reference)
		if err != nil {
			writeError(c, err)
			return
		}
		t, err := svc.Open(c.Request.Context(), p, actor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t) // Return created tally
	}
}

// ListTalliesHandler pages through tallies, optionally by status (comma separated) and user
func ListTalliesHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pagination(c) // Pagination parameters
		userID, ok := userFilter(c)
		if !ok {
			return
		}
		f := repository.TallyFilter{UserID: userID, Page: page, PageSize: pageSize}
		if raw := c.Query("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				f.Statuses = append(f.Statuses, domain.TallyStatus(strings.ToUpper(strings.TrimSpace(s))))
			}
		}
		tallies, total, err := svc.List(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tallies":     tallies,                     // Page of tallies
			"page":        page,                        // Current page
			"page_size":   pageSize,                    // Page size
			"total":       total,                       // Total matches
			"total_pages": totalPages(total, pageSize), // Total pages
		})
	}
}

// GetTallyHandler returns one tally with its bar manifest
func GetTallyHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		t, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// TallyEventsHandler returns the status history of a tally
func TallyEventsHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		events, err := svc.Events(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// ConfirmPaymentHandler confirms the payment; repeating it with the same reference is a no-op
func ConfirmPaymentHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req ConfirmPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		t, err := svc.ConfirmPayment(c.Request.Context(), id, req.Reference, req.ConfirmedAmount, actor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// SaveDraftHandler stores a partial wingold form
func SaveDraftHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var d tally.Draft
		if err := c.ShouldBindJSON(&d); err != nil {
			badRequest(c, err)
			return
		}
		t, err := svc.SaveWingoldDraft(c.Request.Context(), id, d, actor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// ApproveCreditHandler prices the tally and credits every ledger at once
func ApproveCreditHandler(svc *tally.Service, mon *exposure.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var in tally.ApproveInput
		// An empty body approves at the live rate with no extra costs
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&in); err != nil {
				badRequest(c, err)
				return
			}
		}
		in.ApprovedBy = actor(c) // Recorded as approved_by
		approval, err := svc.ApproveCredit(c.Request.Context(), id, in)
		if err != nil {
			writeError(c, err)
			return
		}
		mon.Invalidate(c.Request.Context()) // Invalidate dashboard cache
		c.JSON(http.StatusOK, approval)
	}
}

// RejectTallyHandler terminates a tally with a reason
func RejectTallyHandler(svc *tally.Service) gin.HandlerFunc {
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
		t, err := svc.Reject(c.Request.Context(), id, req.Reason, actor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// CancelTallyHandler terminates a tally without a reason
func CancelTallyHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		t, err := svc.Cancel(c.Request.Context(), id, actor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// ProjectionHandler previews the ledger effect of crediting a tally, optionally at ?rate=
func ProjectionHandler(svc *tally.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var rate *decimal.Decimal
		if raw := c.Query("rate"); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil || !v.IsPositive() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rate"})
				return
			}
			rate = &v
		}
		p, err := svc.Projection(c.Request.Context(), id, rate)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
