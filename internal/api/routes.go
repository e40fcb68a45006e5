package api

import (
	"gold_tally/internal/conversion" // Conversion workflow
	"gold_tally/internal/exposure"   // Coverage dashboard
	"gold_tally/internal/middleware" // JWT and role checks
	"gold_tally/internal/repository" // Persistence
	"gold_tally/internal/tally"      // Tally state machine
	"gold_tally/internal/utils"      // Role names

	"github.com/gin-gonic/gin" // Gin web framework
)

// Deps are the services the handlers call
type Deps struct {
	Tally       *tally.Service      // Tally state machine
	Conversions *conversion.Service // Conversion workflow
	Store       repository.Store    // Vaults, wallets and cash ledger reads
	Prices      SpotSource          // Spot rate
	Exposure    *exposure.Monitor   // Cached dashboard
	JWTSecret   string              // Token signing secret
}

// RegisterRoutes mounts every route. Operators record payments and drafts;
// crediting, conversion review and cash movements need the admin role.
func RegisterRoutes(r gin.IRouter, d Deps) {
	staff := middleware.RequireRole(utils.RoleAdmin, utils.RoleOperator) // Any operator token
	admin := middleware.AdminOnlyMiddleware()                            // Admin tokens only

	// Tally routes
	tallyGroup := r.Group("/tally")
	tallyGroup.Use(middleware.JWTAuthMiddleware(d.JWTSecret), staff)
	tallyGroup.POST("", OpenTallyHandler(d.Tally))                                           // Intake endpoint
	tallyGroup.GET("", ListTalliesHandler(d.Tally))                                          // List endpoint
	tallyGroup.GET("/:id", GetTallyHandler(d.Tally))                                         // Detail endpoint
	tallyGroup.GET("/:id/events", TallyEventsHandler(d.Tally))                               // Status history
	tallyGroup.GET("/:id/projection", ProjectionHandler(d.Tally))                            // Ledger preview
	tallyGroup.POST("/:id/confirm-payment", ConfirmPaymentHandler(d.Tally))                  // Payment confirmation
	tallyGroup.POST("/:id/wingold-form/save-draft", SaveDraftHandler(d.Tally))               // Wingold draft
	tallyGroup.POST("/:id/approve-credit", admin, ApproveCreditHandler(d.Tally, d.Exposure)) // Credit approval
	tallyGroup.POST("/:id/reject", admin, RejectTallyHandler(d.Tally))                       // Rejection
	tallyGroup.POST("/:id/cancel", CancelTallyHandler(d.Tally))                              // Cancellation

	// Conversion routes
	convGroup := r.Group("/conversions")
	convGroup.Use(middleware.JWTAuthMiddleware(d.JWTSecret), staff)
	convGroup.POST("", RequestConversionHandler(d.Conversions))                                // Request endpoint
	convGroup.GET("", ListConversionsHandler(d.Conversions))                                   // List endpoint
	convGroup.GET("/:id", GetConversionHandler(d.Conversions))                                 // Detail endpoint
	convGroup.POST("/:id/approve", admin, ApproveConversionHandler(d.Conversions, d.Exposure)) // Approval
	convGroup.POST("/:id/reject", admin, RejectConversionHandler(d.Conversions))               // Rejection

	// Ledger and treasury routes
	ledgerGroup := r.Group("")
	ledgerGroup.Use(middleware.JWTAuthMiddleware(d.JWTSecret), staff)
	ledgerGroup.GET("/exposure/dashboard", ExposureHandler(d.Exposure))                        // Coverage dashboard
	ledgerGroup.GET("/vaults", ListVaultsHandler(d.Store))                                     // Vault registry
	ledgerGroup.POST("/vaults", admin, CreateVaultHandler(d.Store))                            // Register vault
	ledgerGroup.GET("/cash-ledger", CashLedgerHandler(d.Store))                                // Cash-safety balance
	ledgerGroup.POST("/cash-ledger/entries", admin, PostCashEntryHandler(d.Store, d.Exposure)) // Manual bank movement
	ledgerGroup.GET("/wallets/:userId", GetWalletsHandler(d.Store))                            // Wallet balances
	ledgerGroup.GET("/price", PriceHandler(d.Prices))                                          // Spot rate
}
