// Command admintoken mints a bearer token for the admin API, signed with the
// same ADMIN_JWT_* settings the server reads.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwttoken "hustings/internal/jwt_token"
	"hustings/internal/platform/config"
)

func main() {
	subject := flag.String("subject", "", "admin identity recorded as the audit actor")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "admintoken: -subject is required")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "admintoken:", err)
		os.Exit(1)
	}
	svc := jwttoken.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.Audience)
	token, err := svc.GenerateAdminToken(*subject, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "admintoken:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
