// Command token issues a bearer token for local development.
//
//	DEAL_DESK_JWT_SECRET=dev go run ./cmd/token -user ana -role SALES
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/warp/deal-desk/auth"
	"github.com/warp/deal-desk/config"
	"github.com/warp/deal-desk/deal"
)

func main() {
	user := flag.String("user", "", "user id")
	role := flag.String("role", string(deal.RoleSales), "SALES, FINANCE or ADMIN")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	if strings.TrimSpace(*user) == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}

	var args []string
	if *configPath != "" {
		args = []string{"-config", *configPath}
	}
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r := deal.Role(strings.ToUpper(*role))
	if r != deal.RoleSales && r != deal.RoleFinance && r != deal.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	token, err := verifier.Issue(*user, r, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
