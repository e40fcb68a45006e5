package main

import (
	"flag"                       // Command line flags
	"fmt"                        // Token output
	"gold_tally/internal/config" // Custom import path (Config)
	"gold_tally/internal/utils"  // JWT helpers
	"time"                       // Token lifetime

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Main entry point for minting operator tokens; there is no login endpoint
func main() {
	userID := flag.Uint("user", 1, "operator user id")                           // Custom claim for user ID
	subject := flag.String("subject", "", "operator name recorded on approvals") // Recorded as approved_by
	role := flag.String("role", utils.RoleOperator, "role: admin or operator")   // Operator role
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")                  // Token lifetime
	flag.Parse()

	cfg := config.LoadConfig() // Load configuration
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}
	if *role != utils.RoleAdmin && *role != utils.RoleOperator {
		logrus.Fatalf("unknown role %q", *role)
	}
	token, err := utils.GenerateJWT(*userID, *subject, *role, cfg.JWTSecret, *ttl)
	if err != nil {
		logrus.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
