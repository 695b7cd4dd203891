package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-assessment/internal/clock"
	"github.com/mind-engage/mindengage-assessment/internal/grading"
)

// Engine is the assessment surface used by transports. The localizing
// wrapper in internal/i18n implements it too.
type Engine interface {
	CanStart(ctx context.Context, userID, testID string) (Decision, error)
	Start(ctx context.Context, userID, testID string) (AttemptView, error)
	ActiveAttempt(ctx context.Context, userID, testID string) (Attempt, bool, error)
	Questions(ctx context.Context, userID, testID string) (AttemptView, error)
	Complete(ctx context.Context, userID string, sub Submission) (Result, error)
	Abandon(ctx context.Context, userID, testID, attemptID string) (Attempt, error)
	Regrade(ctx context.Context, actor Actor, attemptID, questionID string, points float64) (Result, error)
	Statistics(ctx context.Context, actor Actor, testID string) (Statistics, error)
	History(ctx context.Context, userID string, page Page) (HistoryPage, error)
	AbandonExpired(ctx context.Context, actor Actor) (int, error)
	PutTest(ctx context.Context, actor Actor, def TestDefinition) (TestDefinition, error)
	DeleteTest(ctx context.Context, actor Actor, testID string) error
}

// GradedAnswer is the per-question line of a Result.
type GradedAnswer struct {
	QuestionID    string  `json:"questionId"`
	IsCorrect     *bool   `json:"isCorrect"`
	PointsAwarded float64 `json:"pointsAwarded"`
	MaxPoints     float64 `json:"maxPoints"`
	Pending       bool    `json:"pending,omitempty"`
}

// Result summarizes a terminal attempt. When the test hides results from
// learners, Score, IsPassed and Answers are cleared and ResultsHidden is set.
type Result struct {
	AttemptID        string         `json:"testResultId"`
	TestID           string         `json:"testId"`
	Status           Status         `json:"status"`
	Score            *float64       `json:"score,omitempty"`
	IsPassed         *bool          `json:"isPassed,omitempty"`
	PassingScore     float64        `json:"passingScore"`
	TimeSpentMinutes int            `json:"timeSpentMinutes"`
	TimedOut         bool           `json:"timedOut,omitempty"`
	PendingReview    int            `json:"pendingReview,omitempty"`
	Answers          []GradedAnswer `json:"answers,omitempty"`
	ResultsHidden    bool           `json:"resultsHidden,omitempty"`
}

func (r Result) hidden() Result {
	r.Score, r.IsPassed, r.Answers, r.PendingReview = nil, nil, nil, 0
	r.ResultsHidden = true
	return r
}

type HistoryEntry struct {
	AttemptID        string     `json:"testResultId"`
	TestID           string     `json:"testId"`
	TestTitle        string     `json:"testTitle"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	TimeSpentMinutes *int       `json:"timeSpentMinutes,omitempty"`
	Score            *float64   `json:"score,omitempty"`
	IsPassed         *bool      `json:"isPassed,omitempty"`
	ResultsHidden    bool       `json:"resultsHidden,omitempty"`
}

type HistoryPage struct {
	Items  []HistoryEntry `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Service owns the attempt state machine. Attempt state lives in the store;
// the Service itself holds no per-attempt memory.
type Service struct {
	catalog  CatalogAdmin
	attempts AttemptStore
	eligible *Eligibility
	grader   *grading.Engine
	clock    clock.Clock
	events   EventSink
	cache    StatsCache
	cacheTTL time.Duration
	log      *slog.Logger
	newID    func() string
	newSeed  func() int64
}

type ServiceOption func(*Service)

func WithClock(c clock.Clock) ServiceOption { return func(s *Service) { s.clock = c } }

func WithGrader(g *grading.Engine) ServiceOption { return func(s *Service) { s.grader = g } }

func WithEvents(e EventSink) ServiceOption { return func(s *Service) { s.events = e } }

// WithStatsCache caches Statistics for ttl. Completions, abandons and
// regrades invalidate the entry.
func WithStatsCache(c StatsCache, ttl time.Duration) ServiceOption {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.log = l } }

func WithIDGenerator(f func() string) ServiceOption { return func(s *Service) { s.newID = f } }

func WithSeedSource(f func() int64) ServiceOption { return func(s *Service) { s.newSeed = f } }

func NewService(catalog CatalogAdmin, attempts AttemptStore, opts ...ServiceOption) *Service {
	s := &Service{
		catalog:  catalog,
		attempts: attempts,
		grader:   grading.NewEngine(),
		clock:    clock.System{},
		log:      slog.Default(),
		newID:    uuid.NewString,
		newSeed:  rand.Int64,
		cacheTTL: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.eligible = NewEligibility(catalog, attempts)
	return s
}

var _ Engine = (*Service)(nil)

// now is truncated to milliseconds, the resolution of the SQL store.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

func (s *Service) CanStart(ctx context.Context, userID, testID string) (Decision, error) {
	return s.eligible.CanStart(ctx, userID, testID, s.now())
}

// Start re-runs eligibility, snapshots the question order and creates the
// attempt. A concurrent start for the same user and test loses with
// ALREADY_IN_PROGRESS.
func (s *Service) Start(ctx context.Context, userID, testID string) (AttemptView, error) {
	now := s.now()
	d, t, err := s.eligible.evaluate(ctx, userID, testID, now)
	if err != nil {
		return AttemptView{}, err
	}
	if !d.Allowed {
		return AttemptView{}, d.Err()
	}
	qs, err := s.catalog.GetQuestions(ctx, testID)
	if err != nil {
		return AttemptView{}, fmt.Errorf("load questions of %s: %w", testID, err)
	}

	seed := s.newSeed()
	a := Attempt{
		ID:            s.newID(),
		UserID:        userID,
		TestID:        testID,
		Status:        StatusInProgress,
		StartedAt:     now,
		Seed:          seed,
		QuestionOrder: QuestionOrder(qs, t.ShuffleQuestions, seed),
	}
	if err := s.attempts.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrActiveAttemptExists) {
			return AttemptView{}, &RuleError{Reason: ReasonAlreadyInProgress}
		}
		return AttemptView{}, fmt.Errorf("create attempt: %w", err)
	}
	s.log.InfoContext(ctx, "attempt started", "attempt", a.ID, "test", testID, "user", userID)
	s.record(ctx, EventAttemptStarted, a, "")
	return s.view(t, qs, a), nil
}

func (s *Service) ActiveAttempt(ctx context.Context, userID, testID string) (Attempt, bool, error) {
	a, err := s.attempts.GetActiveAttempt(ctx, userID, testID)
	if errors.Is(err, ErrAttemptNotFound) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, err
	}
	return a, true, nil
}

// Questions returns the caller's active attempt view. Publication and the
// availability window are checked again; the attempt-count rules are not,
// since the attempt already exists.
func (s *Service) Questions(ctx context.Context, userID, testID string) (AttemptView, error) {
	t, err := s.catalog.GetTest(ctx, testID)
	if errors.Is(err, ErrTestNotFound) {
		return AttemptView{}, &RuleError{Reason: ReasonNotPublished}
	}
	if err != nil {
		return AttemptView{}, err
	}
	if r := windowReason(t, s.now()); r != "" {
		return AttemptView{}, &RuleError{Reason: r}
	}
	a, err := s.attempts.GetActiveAttempt(ctx, userID, testID)
	if errors.Is(err, ErrAttemptNotFound) {
		return AttemptView{}, errNotInProgress
	}
	if err != nil {
		return AttemptView{}, err
	}
	qs, err := s.catalog.GetQuestions(ctx, testID)
	if err != nil {
		return AttemptView{}, fmt.Errorf("load questions of %s: %w", testID, err)
	}
	return s.view(t, qs, a), nil
}

func (s *Service) view(t Test, qs []Question, a Attempt) AttemptView {
	v := AttemptView{
		AttemptID: a.ID,
		TestID:    a.TestID,
		StartedAt: a.StartedAt,
		Questions: Present(t, qs, a.QuestionOrder, a.Seed),
	}
	if d, ok := t.Deadline(a.StartedAt); ok {
		v.ExpiresAt = &d
	}
	return v
}

// ownedActive loads an attempt the caller may finish. Every mismatch
// collapses to NOT_IN_PROGRESS so attempt ids of other users stay opaque.
func (s *Service) ownedActive(ctx context.Context, userID, testID, attemptID string) (Attempt, error) {
	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if IsNotFound(err) {
		return Attempt{}, errNotInProgress
	}
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != userID || a.Status != StatusInProgress || (testID != "" && a.TestID != testID) {
		return Attempt{}, errNotInProgress
	}
	return a, nil
}

// Complete grades a submission. Past the time limit the attempt is abandoned
// with a zero score instead; the client's countdown is advisory only.
func (s *Service) Complete(ctx context.Context, userID string, sub Submission) (Result, error) {
	now := s.now()
	a, err := s.ownedActive(ctx, userID, sub.TestID, sub.AttemptID)
	if err != nil {
		return Result{}, err
	}
	t, err := s.catalog.GetTest(ctx, a.TestID)
	if err != nil {
		return Result{}, fmt.Errorf("load test %s: %w", a.TestID, err)
	}
	qs, err := s.catalog.GetQuestions(ctx, a.TestID)
	if err != nil {
		return Result{}, fmt.Errorf("load questions of %s: %w", a.TestID, err)
	}
	spent := minutes(now.Sub(a.StartedAt))

	if deadline, ok := t.Deadline(a.StartedAt); ok && now.After(deadline) {
		f := timedOut(a, now, spent)
		if err := s.finish(ctx, f); err != nil {
			return Result{}, err
		}
		a = applyFinish(a, f)
		s.log.InfoContext(ctx, "attempt timed out", "attempt", a.ID, "test", a.TestID, "late_by", now.Sub(deadline))
		s.record(ctx, EventAttemptAbandoned, a, "time_limit")
		s.invalidate(ctx, a.TestID)
		res := buildResult(t, qs, a, nil)
		res.TimedOut = true
		return res, nil
	}

	sheet, err := s.grader.Grade(ctx, gradingQuestions(qs), gradingResponses(sub.Answers), t.PassingScore)
	if err != nil {
		var se *grading.ShapeError
		if errors.As(err, &se) {
			return Result{}, &ValidationError{Field: "answers", Msg: se.Error()}
		}
		return Result{}, fmt.Errorf("grade attempt %s: %w", a.ID, err)
	}
	f := Finish{
		AttemptID:        a.ID,
		UserID:           userID,
		Status:           StatusCompleted,
		CompletedAt:      now,
		TimeSpentMinutes: spent,
		Score:            &sheet.Score,
		IsPassed:         &sheet.Passed,
		Answers:          storedAnswers(a.ID, sub.Answers, sheet),
	}
	if err := s.finish(ctx, f); err != nil {
		return Result{}, err
	}
	a = applyFinish(a, f)
	s.log.InfoContext(ctx, "attempt completed", "attempt", a.ID, "test", a.TestID,
		"score", sheet.Score, "passed", sheet.Passed, "pending", sheet.Pending)
	s.record(ctx, EventAttemptCompleted, a, "")
	s.invalidate(ctx, a.TestID)

	res := buildResult(t, qs, a, f.Answers)
	if !t.ShowResultsImmediately {
		res = res.hidden()
	}
	return res, nil
}

// Abandon ends the caller's attempt without grading. An attempt already past
// its deadline is closed the same way a late submission would be.
func (s *Service) Abandon(ctx context.Context, userID, testID, attemptID string) (Attempt, error) {
	now := s.now()
	a, err := s.ownedActive(ctx, userID, testID, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	t, err := s.catalog.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, fmt.Errorf("load test %s: %w", a.TestID, err)
	}
	spent := minutes(now.Sub(a.StartedAt))
	f := Finish{AttemptID: a.ID, UserID: userID, Status: StatusAbandoned, CompletedAt: now, TimeSpentMinutes: spent}
	reason := "user"
	if deadline, ok := t.Deadline(a.StartedAt); ok && now.After(deadline) {
		f, reason = timedOut(a, now, spent), "time_limit"
	}
	if err := s.finish(ctx, f); err != nil {
		return Attempt{}, err
	}
	a = applyFinish(a, f)
	s.record(ctx, EventAttemptAbandoned, a, reason)
	s.invalidate(ctx, a.TestID)
	return a, nil
}

// AbandonExpired closes every IN_PROGRESS attempt whose time limit has
// passed, freeing the one-active-attempt slot. It returns how many it closed.
func (s *Service) AbandonExpired(ctx context.Context, actor Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, ErrForbidden
	}
	now := s.now()
	active, err := s.attempts.ListActiveAttempts(ctx)
	if err != nil {
		return 0, err
	}
	tests := map[string]Test{}
	closed := 0
	for _, a := range active {
		t, ok := tests[a.TestID]
		if !ok {
			if t, err = s.catalog.GetTest(ctx, a.TestID); err != nil {
				return closed, fmt.Errorf("load test %s: %w", a.TestID, err)
			}
			tests[a.TestID] = t
		}
		deadline, limited := t.Deadline(a.StartedAt)
		if !limited || !now.After(deadline) {
			continue
		}
		f := timedOut(a, now, minutes(now.Sub(a.StartedAt)))
		if err := s.attempts.FinishAttempt(ctx, f); err != nil {
			if errors.Is(err, ErrStaleAttempt) {
				continue
			}
			return closed, fmt.Errorf("abandon attempt %s: %w", a.ID, err)
		}
		closed++
		s.record(ctx, EventAttemptAbandoned, applyFinish(a, f), "cleanup")
		s.invalidate(ctx, a.TestID)
	}
	if closed > 0 {
		s.log.InfoContext(ctx, "expired attempts abandoned", "count", closed)
	}
	return closed, nil
}

// Regrade records a reviewer's points for an essay or programming answer
// and recomputes the attempt's score and pass flag.
func (s *Service) Regrade(ctx context.Context, actor Actor, attemptID, questionID string, points float64) (Result, error) {
	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	t, err := s.catalog.GetTest(ctx, a.TestID)
	if err != nil {
		return Result{}, err
	}
	if !canManage(actor, t) {
		return Result{}, ErrForbidden
	}
	if a.Status != StatusCompleted {
		return Result{}, &ValidationError{Field: "testResultId", Msg: "only completed attempts can be graded"}
	}
	qs, err := s.catalog.GetQuestions(ctx, t.ID)
	if err != nil {
		return Result{}, err
	}
	i := slices.IndexFunc(qs, func(q Question) bool { return q.ID == questionID })
	if i < 0 {
		return Result{}, ErrQuestionNotFound
	}
	q := qs[i]
	if q.Type.AutoGraded() {
		return Result{}, &ValidationError{Field: "questionId", Msg: "only essay and programming answers are graded manually"}
	}
	if points < 0 || points > q.PointValue {
		return Result{}, &ValidationError{Field: "pointsAwarded", Msg: fmt.Sprintf("must be between 0 and %g", q.PointValue)}
	}

	var maxPoints float64
	for _, q := range qs {
		maxPoints += q.PointValue
	}
	rescore := func(earned float64) (float64, bool) {
		score := grading.Score(earned, maxPoints)
		return score, grading.Passed(score, t.PassingScore)
	}
	g := ManualGrade{AttemptID: a.ID, QuestionID: q.ID, PointsAwarded: points, IsCorrect: points == q.PointValue, GradedBy: actor.ID}
	updated, err := s.attempts.ApplyManualGrade(ctx, g, rescore)
	if errors.Is(err, ErrStaleAttempt) {
		return Result{}, &ValidationError{Field: "testResultId", Msg: "only completed attempts can be graded"}
	}
	if err != nil {
		return Result{}, err
	}
	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return Result{}, err
	}
	s.log.InfoContext(ctx, "answer graded", "attempt", a.ID, "question", q.ID, "points", points, "grader", actor.ID)
	s.record(ctx, EventAttemptRegraded, updated, q.ID)
	s.invalidate(ctx, t.ID)
	return buildResult(t, qs, updated, answers), nil
}

// Statistics is restricted to the test's creator and administrators.
func (s *Service) Statistics(ctx context.Context, actor Actor, testID string) (Statistics, error) {
	t, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		return Statistics{}, err
	}
	if !canManage(actor, t) {
		return Statistics{}, ErrForbidden
	}
	key := statsKey(testID)
	if s.cache != nil {
		var st Statistics
		found, err := s.cache.Get(ctx, key, &st)
		if err != nil {
			s.log.WarnContext(ctx, "stats cache read failed", "test", testID, "err", err)
		} else if found {
			return st, nil
		}
	}
	list, err := s.attempts.ListTerminalAttempts(ctx, testID)
	if err != nil {
		return Statistics{}, err
	}
	st := Aggregate(testID, list)
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, st, s.cacheTTL); err != nil {
			s.log.WarnContext(ctx, "stats cache write failed", "test", testID, "err", err)
		}
	}
	return st, nil
}

// History lists the caller's attempts newest first.
func (s *Service) History(ctx context.Context, userID string, page Page) (HistoryPage, error) {
	page = page.normalize()
	list, total, err := s.attempts.ListUserAttempts(ctx, userID, page)
	if err != nil {
		return HistoryPage{}, err
	}
	out := HistoryPage{Items: make([]HistoryEntry, 0, len(list)), Total: total, Limit: page.Limit, Offset: page.Offset}
	tests := map[string]Test{}
	for _, a := range list {
		t, ok := tests[a.TestID]
		if !ok {
			if t, err = s.catalog.GetTest(ctx, a.TestID); err != nil {
				return HistoryPage{}, fmt.Errorf("load test %s: %w", a.TestID, err)
			}
			tests[a.TestID] = t
		}
		e := HistoryEntry{
			AttemptID:        a.ID,
			TestID:           a.TestID,
			TestTitle:        t.Title,
			Status:           a.Status,
			StartedAt:        a.StartedAt,
			CompletedAt:      a.CompletedAt,
			TimeSpentMinutes: a.TimeSpentMinutes,
			Score:            a.Score,
			IsPassed:         a.IsPassed,
		}
		if !t.ShowResultsImmediately {
			e.Score, e.IsPassed, e.ResultsHidden = nil, nil, true
		}
		out.Items = append(out.Items, e)
	}
	return out, nil
}

// PutTest creates or replaces a test definition. Once any attempt exists
// only title and description may change; a question shown in a running
// attempt of any test cannot change either.
func (s *Service) PutTest(ctx context.Context, actor Actor, def TestDefinition) (TestDefinition, error) {
	def = normalizeDefinition(def)
	existing, err := s.catalog.GetTest(ctx, def.ID)
	exists := false
	switch {
	case errors.Is(err, ErrTestNotFound):
		def.CreatedBy = actor.ID
		def.CreatedAt = s.now()
	case err != nil:
		return TestDefinition{}, err
	default:
		if !canManage(actor, existing) {
			return TestDefinition{}, ErrForbidden
		}
		exists = true
		def.CreatedBy, def.CreatedAt = existing.CreatedBy, existing.CreatedAt
	}
	if err := ValidateDefinition(def); err != nil {
		return TestDefinition{}, err
	}

	if exists {
		n, err := s.attempts.CountAttempts(ctx, def.ID)
		if err != nil {
			return TestDefinition{}, err
		}
		if n > 0 {
			qs, err := s.catalog.GetQuestions(ctx, def.ID)
			if err != nil {
				return TestDefinition{}, err
			}
			if !sameStructure(TestDefinition{Test: existing, Questions: qs}, def) {
				return TestDefinition{}, ErrTestLocked
			}
		}
	}
	for _, q := range def.Questions {
		prev, err := s.catalog.GetQuestion(ctx, q.ID)
		if errors.Is(err, ErrQuestionNotFound) {
			continue
		}
		if err != nil {
			return TestDefinition{}, err
		}
		if sameQuestion(prev, q) {
			continue
		}
		inUse, err := s.attempts.QuestionInUse(ctx, q.ID)
		if err != nil {
			return TestDefinition{}, err
		}
		if inUse {
			return TestDefinition{}, ErrTestLocked
		}
	}

	if err := s.catalog.SaveTest(ctx, def); err != nil {
		return TestDefinition{}, fmt.Errorf("save test %s: %w", def.ID, err)
	}
	s.log.InfoContext(ctx, "test saved", "test", def.ID, "questions", len(def.Questions), "by", actor.ID)
	return def, nil
}

func (s *Service) DeleteTest(ctx context.Context, actor Actor, testID string) error {
	t, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		return err
	}
	if !canManage(actor, t) {
		return ErrForbidden
	}
	if err := s.catalog.DeleteTest(ctx, testID); err != nil {
		return err
	}
	s.invalidate(ctx, testID)
	s.log.InfoContext(ctx, "test deleted", "test", testID, "by", actor.ID)
	return nil
}

// ---- helpers ----

func (s *Service) finish(ctx context.Context, f Finish) error {
	err := s.attempts.FinishAttempt(ctx, f)
	if errors.Is(err, ErrStaleAttempt) {
		return errNotInProgress
	}
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", f.AttemptID, err)
	}
	return nil
}

type attemptEvent struct {
	AttemptID string    `json:"attemptId"`
	UserID    string    `json:"userId"`
	TestID    string    `json:"testId"`
	Status    Status    `json:"status"`
	Score     *float64  `json:"score,omitempty"`
	IsPassed  *bool     `json:"isPassed,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// record appends to the event log after the state change has committed;
// a failure is logged and does not undo the transition.
func (s *Service) record(ctx context.Context, typ string, a Attempt, detail string) {
	if s.events == nil {
		return
	}
	ev := attemptEvent{
		AttemptID: a.ID, UserID: a.UserID, TestID: a.TestID, Status: a.Status,
		Score: a.Score, IsPassed: a.IsPassed, Detail: detail, At: s.now(),
	}
	if err := s.events.Record(ctx, typ, a.ID, ev); err != nil {
		s.log.WarnContext(ctx, "event log append failed", "type", typ, "attempt", a.ID, "err", err)
	}
}

func (s *Service) invalidate(ctx context.Context, testID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsKey(testID)); err != nil {
		s.log.WarnContext(ctx, "stats cache invalidation failed", "test", testID, "err", err)
	}
}

func statsKey(testID string) string { return "stats:" + testID }

func canManage(actor Actor, t Test) bool {
	return actor.IsAdmin() || (actor.ID != "" && actor.ID == t.CreatedBy)
}

func minutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

func timedOut(a Attempt, now time.Time, spent int) Finish {
	zero, failed := 0.0, false
	return Finish{
		AttemptID:        a.ID,
		UserID:           a.UserID,
		Status:           StatusAbandoned,
		CompletedAt:      now,
		TimeSpentMinutes: spent,
		Score:            &zero,
		IsPassed:         &failed,
	}
}

func applyFinish(a Attempt, f Finish) Attempt {
	completed, spent := f.CompletedAt, f.TimeSpentMinutes
	a.Status = f.Status
	a.CompletedAt = &completed
	a.TimeSpentMinutes = &spent
	a.Score = f.Score
	a.IsPassed = f.IsPassed
	return a
}

func gradingQuestions(qs []Question) []grading.Q {
	out := make([]grading.Q, len(qs))
	for i, q := range qs {
		ids := make([]string, len(q.Options))
		for j, o := range q.Options {
			ids[j] = o.ID
		}
		out[i] = grading.Q{ID: q.ID, Type: string(q.Type), Points: q.PointValue, OptionIDs: ids, CorrectOptionID: q.CorrectOptionID()}
	}
	return out
}

func gradingResponses(answers []SubmittedAnswer) []grading.Response {
	out := make([]grading.Response, len(answers))
	for i, a := range answers {
		out[i] = grading.Response{QuestionID: a.QuestionID, SelectedOptionID: a.SelectedOptionID, AnswerText: a.AnswerText}
	}
	return out
}

// storedAnswers keeps only answered questions; unanswered ones are implied
// zero by the denominator.
func storedAnswers(attemptID string, submitted []SubmittedAnswer, sheet grading.Sheet) []Answer {
	byQ := make(map[string]SubmittedAnswer, len(submitted))
	for _, a := range submitted {
		byQ[a.QuestionID] = a
	}
	out := make([]Answer, 0, len(submitted))
	for _, r := range sheet.Results {
		if !r.Answered {
			continue
		}
		sa := byQ[r.QuestionID]
		out = append(out, Answer{
			AttemptID:        attemptID,
			QuestionID:       r.QuestionID,
			SelectedOptionID: sa.SelectedOptionID,
			AnswerText:       sa.AnswerText,
			IsCorrect:        r.IsCorrect,
			PointsAwarded:    r.AutoPoints,
		})
	}
	return out
}

func buildResult(t Test, qs []Question, a Attempt, answers []Answer) Result {
	res := Result{
		AttemptID:    a.ID,
		TestID:       a.TestID,
		Status:       a.Status,
		Score:        a.Score,
		IsPassed:     a.IsPassed,
		PassingScore: t.PassingScore,
		Answers:      make([]GradedAnswer, 0, len(qs)),
	}
	if a.TimeSpentMinutes != nil {
		res.TimeSpentMinutes = *a.TimeSpentMinutes
	}
	byQ := make(map[string]Answer, len(answers))
	for _, ans := range answers {
		byQ[ans.QuestionID] = ans
	}
	wrong := false
	for _, q := range qs {
		g := GradedAnswer{QuestionID: q.ID, MaxPoints: q.PointValue, IsCorrect: &wrong}
		if ans, ok := byQ[q.ID]; ok {
			g.IsCorrect = ans.IsCorrect
			g.PointsAwarded = ans.PointsAwarded
			if ans.IsCorrect == nil {
				g.Pending = true
				res.PendingReview++
			}
		}
		res.Answers = append(res.Answers, g)
	}
	return res
}

func normalizeDefinition(def TestDefinition) TestDefinition {
	norm := func(p *time.Time) *time.Time {
		if p == nil {
			return nil
		}
		t := p.UTC().Truncate(time.Millisecond)
		return &t
	}
	def.AvailableFrom = norm(def.AvailableFrom)
	def.AvailableUntil = norm(def.AvailableUntil)
	qs := make([]Question, len(def.Questions))
	for i, q := range def.Questions {
		if len(q.Options) == 0 {
			q.Options = nil
		}
		qs[i] = q
	}
	def.Questions = qs
	return def
}

func sameStructure(a, b TestDefinition) bool {
	x, y := a.Test, b.Test
	if x.CourseID != y.CourseID || !eqPtr(x.LessonID, y.LessonID) ||
		!eqPtr(x.TimeLimitMinutes, y.TimeLimitMinutes) || !eqPtr(x.MaxAttempts, y.MaxAttempts) ||
		x.PassingScore != y.PassingScore || x.ShuffleQuestions != y.ShuffleQuestions ||
		x.ShuffleOptions != y.ShuffleOptions || x.ShowResultsImmediately != y.ShowResultsImmediately ||
		x.IsPublished != y.IsPublished || !eqTime(x.AvailableFrom, y.AvailableFrom) ||
		!eqTime(x.AvailableUntil, y.AvailableUntil) {
		return false
	}
	return slices.EqualFunc(a.Questions, b.Questions, sameQuestion)
}

func sameQuestion(a, b Question) bool {
	return a.ID == b.ID && a.Type == b.Type && a.Prompt == b.Prompt &&
		a.PointValue == b.PointValue && slices.Equal(a.Options, b.Options)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
