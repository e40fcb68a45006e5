package api

import (
	"context"                        // Context for price lookups
	"gold_tally/internal/domain"     // Importing domain models
	"gold_tally/internal/exposure"   // Coverage dashboard
	"gold_tally/internal/ledger"     // Cash ledger
	"gold_tally/internal/pricefeed"  // Spot rates
	"gold_tally/internal/repository" // Persistence
	"net/http"                       // HTTP status codes
	"strconv"                        // String conversion
	"strings"                        // String manipulation

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Decimal amounts
	"github.com/sirupsen/logrus"    // Logging library
)

// SpotSource provides the current gold rate
type SpotSource interface {
	Spot(ctx context.Context) (pricefeed.Rate, error)
}

// VaultRequest registers a vault location
type VaultRequest struct {
	Name          string          `json:"name" binding:"required,max=64"` // Vault name referenced by tallies
	CapacityKg    decimal.Decimal `json:"capacity_kg"`                    // Zero means unlimited
	SecurityLevel string          `json:"security_level"`                 // Free-form rating
	IsPrimary     bool            `json:"is_primary"`                     // Primary vault flag
}

// WalletView is a wallet with its spendable balance
type WalletView struct {
	domain.GoldWallet
	AvailableG decimal.Decimal `json:"available_g"` // Balance not reserved by pending conversions
}

// ListVaultsHandler returns every vault with holdings
func ListVaultsHandler(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		vaults, err := store.ListVaults(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"vaults": vaults})
	}
}

// CreateVaultHandler registers an active vault
func CreateVaultHandler(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VaultRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if req.CapacityKg.IsNegative() {
			writeError(c, &domain.ValidationError{Field: "capacity_kg", Message: "must not be negative"})
			return
		}
		v := &domain.VaultLocation{
			Name:          strings.TrimSpace(req.Name), // Vault name
			CapacityKg:    req.CapacityKg,              // Capacity in kilograms
			SecurityLevel: req.SecurityLevel,           // Security rating
			IsActive:      true,                        // New vaults accept deposits
			IsPrimary:     req.IsPrimary,               // Primary flag
		}
		if err := store.CreateVault(c.Request.Context(), v); err != nil {
			writeError(c, err)
			return
		}
		logrus.WithFields(logrus.Fields{"vault": v.Name, "capacity_kg": v.CapacityKg, "actor": actor(c)}).Info("vault registered")
		c.JSON(http.StatusCreated, v)
	}
}

// CashLedgerHandler returns the cash-safety balance; ?entries=true includes the entries
func CashLedgerHandler(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		withEntries := c.Query("entries") == "true"
		pos, err := ledger.Position(c.Request.Context(), store, withEntries)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, pos)
	}
}

// PostCashEntryHandler records a manual bank funding or withdrawal
func PostCashEntryHandler(store repository.Store, mon *exposure.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m ledger.ManualEntry
		if err := c.ShouldBindJSON(&m); err != nil {
			badRequest(c, err)
			return
		}
		m.Direction = domain.CashDirection(strings.ToLower(string(m.Direction)))
		e, err := ledger.PostManual(c.Request.Context(), store, m)
		if err != nil {
			writeError(c, err)
			return
		}
		mon.Invalidate(c.Request.Context()) // Invalidate dashboard cache
		logrus.WithFields(logrus.Fields{"entry_type": e.EntryType, "amount_usd": e.AmountUSD, "actor": actor(c)}).Info("manual cash entry posted")
		c.JSON(http.StatusCreated, e)
	}
}

// GetWalletsHandler returns both wallets of a user
func GetWalletsHandler(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
		if err != nil || userID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}
		wallets, err := store.ListWallets(c.Request.Context(), repository.WalletFilter{UserID: uint(userID)})
		if err != nil {
			writeError(c, err)
			return
		}
		views := make([]WalletView, len(wallets))
		for i, w := range wallets {
			views[i] = WalletView{GoldWallet: w, AvailableG: w.AvailableG()}
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "wallets": views})
	}
}

// PriceHandler returns the current spot rate
func PriceHandler(prices SpotSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		rate, err := prices.Spot(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rate)
	}
}

// ExposureHandler returns the coverage dashboard, from cache when fresh
func ExposureHandler(m *exposure.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, cached, err := m.Dashboard(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"dashboard": d,      // Coverage figures and alerts
			"cached":    cached, // Indicate response is from cache
		})
	}
}
