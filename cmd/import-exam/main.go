package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository"
)

// exportedQuestion is the authoring service's export format. The answer key
// fields are hidden from model.Question's JSON, so they are read here.
type exportedQuestion struct {
	model.Question
	CorrectAnswer    json.RawMessage         `json:"correctAnswer"`
	ShortAnswerRules *model.ShortAnswerRules `json:"shortAnswerRules"`
}

type exportedExam struct {
	model.ExamConfig
	Questions []exportedQuestion `json:"questions"`
}

func main() {
	path := flag.String("file", "", "Exam export JSON file (required)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-exam -file exam.json")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	var exam exportedExam
	if err := json.Unmarshal(raw, &exam); err != nil {
		fmt.Fprintln(os.Stderr, "Error: invalid export:", err)
		os.Exit(1)
	}
	if exam.ExamID == uuid.Nil || exam.DurationMinutes <= 0 {
		fmt.Fprintln(os.Stderr, "Error: examId and durationMinutes are required")
		os.Exit(1)
	}

	questions := make([]model.Question, 0, len(exam.Questions))
	for i, eq := range exam.Questions {
		q := eq.Question
		if !q.Type.Valid() {
			fmt.Fprintf(os.Stderr, "Error: question %d has unknown type %q\n", i, q.Type)
			os.Exit(1)
		}
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.ExamID = exam.ExamID
		q.CorrectAnswer = eq.CorrectAnswer
		q.ShortAnswerRules = eq.ShortAnswerRules
		questions = append(questions, q)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "import-exam")

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := repository.NewExamRepository(pool).Import(ctx, &exam.ExamConfig, questions); err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	log.Info().
		Str("exam_id", exam.ExamID.String()).
		Int("questions", len(questions)).
		Msg("Exam imported")
}
