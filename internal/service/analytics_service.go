package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"golang.org/x/sync/errgroup"
)

// Analytics thresholds.
const (
	minDiscriminationAttempts = 4
	discriminationGroupShare  = 0.27
	lowDiscrimination         = 0.1
	tooHardDifficulty         = 0.25
	tooEasyDifficulty         = 0.9
	highBlankRate             = 0.35
	minSampleAnswers          = 5
	minSampleShare            = 0.2
	optionKeyMaxRunes         = 64
)

// AnalyticsService computes question statistics over scored attempts only.
type AnalyticsService struct {
	answers   AnswerStore
	results   ResultStore
	questions QuestionBank
	store     AnalyticsStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(
	answers AnswerStore,
	results ResultStore,
	questions QuestionBank,
	store AnalyticsStore,
	log zerolog.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		answers:   answers,
		results:   results,
		questions: questions,
		store:     store,
		log:       log.With().Str("component", "analytics_service").Logger(),
		now:       time.Now,
	}
}

// ExamReport recomputes every question's statistics from raw stored answers
// and attaches the rolling counters for comparison.
func (s *AnalyticsService) ExamReport(ctx context.Context, examID uuid.UUID) (*model.ExamAnalyticsReport, error) {
	var (
		questions []model.Question
		results   []model.ExamResult
		answers   map[uuid.UUID]map[uuid.UUID]*model.AnswerPayload
		rolling   map[uuid.UUID]*model.QuestionAnalytics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		questions, err = s.questions.ListByExam(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		results, err = s.results.ListByExam(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		answers, err = s.answers.ListByExam(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		rolling, err = s.store.ListByExam(gctx, examID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load analytics inputs: %w", err)
	}

	ranked := RankAttempts(results)
	report := &model.ExamAnalyticsReport{
		ExamID:       examID,
		AttemptCount: len(ranked),
		Questions:    make([]model.QuestionReport, 0, len(questions)),
		GeneratedAt:  s.now().UTC(),
	}

	for i := range questions {
		q := &questions[i]
		qr := model.QuestionReport{
			QuestionID:      q.ID,
			Position:        q.Position,
			Type:            q.Type,
			AttemptsSeen:    len(ranked),
			OptionHistogram: map[string]int{},
			Rolling:         rolling[q.ID],
		}

		correctBy := make(map[uuid.UUID]bool, len(ranked))
		for _, attemptID := range ranked {
			ans := answers[attemptID][q.ID]
			if ans == nil {
				continue
			}
			qr.Answered++
			qr.OptionHistogram[OptionKey(ans)]++
			if GradeQuestion(q, ans) {
				qr.Correct++
				correctBy[attemptID] = true
			}
		}

		qr.DifficultyIndex = DifficultyIndex(qr.Correct, qr.Answered)
		qr.DiscriminationIndex = DiscriminationIndex(ranked, correctBy)
		qr.BlankRate = BlankRate(qr.AttemptsSeen, qr.Answered)
		qr.Flags = QuestionFlags(&qr)
		report.Questions = append(report.Questions, qr)
	}

	return report, nil
}

// ApplyAttempt adds a scored attempt's contribution to the rolling counters.
// It is a no-op for an attempt that was already counted.
func (s *AnalyticsService) ApplyAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	result, err := s.results.Get(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return false, ErrAttemptNotSubmitted
	}
	if err != nil {
		return false, fmt.Errorf("get result: %w", err)
	}

	questions, err := s.questions.ListByExam(ctx, result.ExamID)
	if err != nil {
		return false, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return false, fmt.Errorf("list answers: %w", err)
	}

	applied, err := s.store.ApplyAttempt(ctx, attemptID, result.ExamID, AttemptDeltas(questions, answers), s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("apply analytics: %w", err)
	}
	return applied, nil
}

// AttemptDeltas grades every question once for the rolling counters.
func AttemptDeltas(questions []model.Question, answers map[uuid.UUID]*model.AnswerPayload) []model.QuestionDelta {
	deltas := make([]model.QuestionDelta, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		ans := answers[q.ID]
		deltas = append(deltas, model.QuestionDelta{
			QuestionID: q.ID,
			Answered:   ans != nil,
			Correct:    GradeQuestion(q, ans),
			OptionKey:  OptionKey(ans),
		})
	}
	return deltas
}

// RankAttempts orders scored attempts by percentage descending; ties break on
// attempt id so the grouping is stable.
func RankAttempts(results []model.ExamResult) []uuid.UUID {
	sorted := make([]model.ExamResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Percentage != sorted[j].Percentage {
			return sorted[i].Percentage > sorted[j].Percentage
		}
		return sorted[i].AttemptID.String() < sorted[j].AttemptID.String()
	})
	ids := make([]uuid.UUID, len(sorted))
	for i, r := range sorted {
		ids[i] = r.AttemptID
	}
	return ids
}

// DifficultyIndex is correct/answered, or nil when nobody answered.
func DifficultyIndex(correct, answered int) *float64 {
	if answered == 0 {
		return nil
	}
	v := float64(correct) / float64(answered)
	return &v
}

// BlankRate is the share of attempts that left the question empty.
func BlankRate(seen, answered int) *float64 {
	if seen == 0 {
		return nil
	}
	v := float64(seen-answered) / float64(seen)
	return &v
}

// DiscriminationIndex compares the correct rate of the top and bottom 27% of
// ranked attempts. It needs at least four attempts.
func DiscriminationIndex(ranked []uuid.UUID, correct map[uuid.UUID]bool) *float64 {
	n := len(ranked)
	if n < minDiscriminationAttempts {
		return nil
	}
	g := int(math.Ceil(discriminationGroupShare * float64(n)))
	if g == 0 {
		return nil
	}

	rate := func(group []uuid.UUID) float64 {
		hits := 0
		for _, id := range group {
			if correct[id] {
				hits++
			}
		}
		return float64(hits) / float64(len(group))
	}

	v := rate(ranked[:g]) - rate(ranked[n-g:])
	return &v
}

// QuestionFlags derives quality flags from a computed report.
func QuestionFlags(r *model.QuestionReport) []string {
	flags := []string{}
	if d := r.DiscriminationIndex; d != nil {
		if *d < lowDiscrimination {
			flags = append(flags, model.FlagLowDiscrimination)
		}
		if *d < 0 {
			flags = append(flags, model.FlagNegativeDiscrimination)
		}
	}
	if d := r.DifficultyIndex; d != nil {
		if *d < tooHardDifficulty {
			flags = append(flags, model.FlagTooHard)
		}
		if *d > tooEasyDifficulty {
			flags = append(flags, model.FlagTooEasy)
		}
	}
	if b := r.BlankRate; b != nil && *b > highBlankRate {
		flags = append(flags, model.FlagHighBlankRate)
	}
	minSample := max(float64(minSampleAnswers), minSampleShare*float64(r.AttemptsSeen))
	if float64(r.Answered) < minSample {
		flags = append(flags, model.FlagLowSample)
	}
	return flags
}

// OptionKey buckets an answer into a comparable histogram key. A missing
// answer has the empty key.
func OptionKey(p *model.AnswerPayload) string {
	if p == nil {
		return ""
	}
	switch p.Kind {
	case model.AnswerKindOption:
		if p.Option != nil {
			return strconv.Itoa(*p.Option)
		}
	case model.AnswerKindOptions:
		idx := make([]int, len(p.Options))
		copy(idx, p.Options)
		sort.Ints(idx)
		parts := make([]string, len(idx))
		for i, v := range idx {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, ",")
	case model.AnswerKindBool:
		if p.Bool != nil {
			return strconv.FormatBool(*p.Bool)
		}
	case model.AnswerKindText:
		if p.Text != nil {
			return truncateRunes(strings.ToLower(strings.TrimSpace(*p.Text)), optionKeyMaxRunes)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
