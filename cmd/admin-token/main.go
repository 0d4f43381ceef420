package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
	"golang.org/x/term"
)

// admin-token mints an admin JWT signed with JWT_SECRET, for operators and
// local development when the institution console is not available.
func main() {
	var (
		adminID     = flag.String("admin", "", "Admin identifier recorded on reviews and batches")
		permissions = flag.String("perms", string(model.PermissionAll), "Comma-separated permission codes")
		ttl         = flag.Duration("ttl", 8*time.Hour, "Token lifetime")
	)
	flag.Parse()

	cfg := config.Load()

	id := strings.TrimSpace(*adminID)
	if id == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -admin is required when stdin is not a terminal")
			os.Exit(2)
		}
		fmt.Print("Enter Admin ID: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		id = strings.TrimSpace(line)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Error: Admin ID is required")
		os.Exit(2)
	}

	var perms []string
	for _, p := range strings.Split(*permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}

	tokens := service.NewTokenService(cfg.JWTSecret, cfg.AttemptTokenGrace)
	token, err := tokens.IssueAdminToken(id, *ttl, perms...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
