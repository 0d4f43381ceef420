package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		examIDStr = flag.String("exam", "", "Exam ID (required)")
		quantity  = flag.Int("quantity", 1, "Number of PINs to generate")
		length    = flag.Int("length", 6, "Random characters per PIN, excluding prefix")
		charset   = flag.String("charset", string(model.PinCharsetNumeric), "numeric or alphanumeric")
		prefix    = flag.String("prefix", "", "Optional PIN prefix")
		maxUses   = flag.Int("max-uses", 1, "Redemptions allowed per PIN")
		expiresIn = flag.Duration("expires-in", 0, "PIN lifetime, e.g. 72h (0 = never)")
		allowList = flag.Bool("allow-list", false, "Restrict redemption to allow-listed identifiers")
		createdBy = flag.String("by", "cli", "Operator recorded on the batch")
		outPath   = flag.String("out", "", "Write PINs as CSV to this file instead of the terminal")
		yes       = flag.Bool("yes", false, "Skip the confirmation prompt")
	)
	flag.Parse()

	examID, err := uuid.Parse(*examIDStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: -exam must be a valid UUID")
		os.Exit(2)
	}

	// Raw PINs are shown exactly once. Refuse to pipe them into logs or files
	// by accident: a non-terminal stdout requires an explicit -out.
	if *outPath == "" && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: stdout is not a terminal; use -out to write PINs to a file")
		os.Exit(2)
	}

	req := model.GeneratePinBatchRequest{
		Quantity:         *quantity,
		Length:           *length,
		Charset:          model.PinCharset(*charset),
		Prefix:           *prefix,
		MaxUses:          *maxUses,
		AllowListEnabled: *allowList,
	}
	if *expiresIn > 0 {
		t := time.Now().Add(*expiresIn).UTC()
		req.ExpiresAt = &t
	}
	if err := checkRequest(req); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "generate-pins")

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	pinRepo := repository.NewPinRepository(pool)
	examConfig, err := repository.NewExamRepository(pool).GetConfig(ctx, examID)
	if err != nil {
		log.Fatal().Err(err).Str("exam_id", examID.String()).Msg("Exam not found")
	}

	pinService := service.NewPinService(
		pinRepo,
		service.NewPinCapacityGuard(pinRepo, cfg.MaxPinsPerExam),
		nil,
		cfg.PinPepper,
		cfg.PinHintLength,
		log,
	)

	// ─── Confirm ───────────────────────────────────────────────────────
	if !*yes {
		fmt.Printf("Generate %d PIN(s) for %q (max %d use(s) each)? [y/N]: ", req.Quantity, examConfig.Title, req.MaxUses)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Aborted")
			return
		}
	}

	// ─── Generate ──────────────────────────────────────────────────────
	batch, err := pinService.GenerateBatch(ctx, examID, req, *createdBy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate PIN batch")
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	if err := writePins(out, batch); err != nil {
		log.Fatal().Err(err).Msg("Failed to write PINs")
	}

	fmt.Fprintf(os.Stderr, "Batch %s: %d PIN(s) generated\n", batch.Batch.ID, len(batch.Pins))
}

// checkRequest mirrors the binding rules applied by the admin API.
func checkRequest(req model.GeneratePinBatchRequest) error {
	switch {
	case req.Quantity < 1 || req.Quantity > 10000:
		return fmt.Errorf("-quantity must be between 1 and 10000")
	case req.Length < 4 || req.Length > 32:
		return fmt.Errorf("-length must be between 4 and 32")
	case req.Charset != model.PinCharsetNumeric && req.Charset != model.PinCharsetAlphanumeric:
		return fmt.Errorf("-charset must be numeric or alphanumeric")
	case len(req.Prefix) > 16 || strings.ContainsFunc(req.Prefix, notAlphanumeric):
		return fmt.Errorf("-prefix must be at most 16 letters or digits")
	case req.MaxUses < 1:
		return fmt.Errorf("-max-uses must be at least 1")
	}
	return nil
}

func notAlphanumeric(r rune) bool {
	return !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
}

func writePins(w io.Writer, batch *model.GeneratedBatch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pin_id", "pin", "hint"}); err != nil {
		return err
	}
	for _, p := range batch.Pins {
		if err := cw.Write([]string{p.ID.String(), p.Pin, p.Hint}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
