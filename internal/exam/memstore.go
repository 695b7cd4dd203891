package exam

import (
	"context"
	"sort"
	"sync"
)

type memoryStore struct {
	mu        sync.RWMutex
	tests     map[string]Test
	questions map[string]Question
	links     map[string][]TestQuestion // testID -> ordered links
	attempts  map[string]Attempt
	answers   map[string]map[string]Answer // attemptID -> questionID -> answer
}

// NewInMemoryStore returns a Store backed by maps, for tests and offline demos.
func NewInMemoryStore() Store {
	return &memoryStore{
		tests:     map[string]Test{},
		questions: map[string]Question{},
		links:     map[string][]TestQuestion{},
		attempts:  map[string]Attempt{},
		answers:   map[string]map[string]Answer{},
	}
}

func (m *memoryStore) GetTest(_ context.Context, id string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, ErrTestNotFound
	}
	return t, nil
}

func (m *memoryStore) GetQuestions(_ context.Context, testID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tests[testID]; !ok {
		return nil, ErrTestNotFound
	}
	links := m.links[testID]
	out := make([]Question, 0, len(links))
	for _, l := range links {
		out = append(out, cloneQuestion(m.questions[l.QuestionID]))
	}
	return out, nil
}

func (m *memoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

func (m *memoryStore) SaveTest(_ context.Context, def TestDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[def.ID] = def.Test
	links := make([]TestQuestion, 0, len(def.Questions))
	for i, q := range def.Questions {
		m.questions[q.ID] = cloneQuestion(q)
		links = append(links, TestQuestion{TestID: def.ID, QuestionID: q.ID, SortOrder: i})
	}
	m.links[def.ID] = links
	return nil
}

func (m *memoryStore) DeleteTest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[id]; !ok {
		return ErrTestNotFound
	}
	for _, a := range m.attempts {
		if a.TestID == id {
			return ErrTestLocked
		}
	}
	delete(m.tests, id)
	delete(m.links, id)
	return nil
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[a.TestID]; !ok {
		return ErrTestNotFound
	}
	for _, x := range m.attempts {
		if x.UserID == a.UserID && x.TestID == a.TestID && x.Status == StatusInProgress {
			return ErrActiveAttemptExists
		}
	}
	a.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (m *memoryStore) GetActiveAttempt(_ context.Context, userID, testID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.UserID == userID && a.TestID == testID && a.Status == StatusInProgress {
			return cloneAttempt(a), nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *memoryStore) CountTerminalAttempts(_ context.Context, userID, testID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.UserID == userID && a.TestID == testID && a.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) CountAttempts(_ context.Context, testID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.TestID == testID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) QuestionInUse(_ context.Context, questionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.Status != StatusInProgress {
			continue
		}
		for _, l := range m.links[a.TestID] {
			if l.QuestionID == questionID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memoryStore) FinishAttempt(_ context.Context, f Finish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[f.AttemptID]
	if !ok || a.UserID != f.UserID || a.Status != StatusInProgress {
		return ErrStaleAttempt
	}
	completedAt := f.CompletedAt
	spent := f.TimeSpentMinutes
	a.Status = f.Status
	a.CompletedAt = &completedAt
	a.TimeSpentMinutes = &spent
	a.Score = f.Score
	a.IsPassed = f.IsPassed
	m.attempts[a.ID] = a

	if len(f.Answers) > 0 {
		byQ := make(map[string]Answer, len(f.Answers))
		for _, ans := range f.Answers {
			ans.AttemptID = a.ID
			byQ[ans.QuestionID] = ans
		}
		m.answers[a.ID] = byQ
	}
	return nil
}

func (m *memoryStore) ListAnswers(_ context.Context, attemptID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.attempts[attemptID]; !ok {
		return nil, ErrAttemptNotFound
	}
	out := make([]Answer, 0, len(m.answers[attemptID]))
	for _, a := range m.answers[attemptID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) ApplyManualGrade(_ context.Context, g ManualGrade, rescore Rescore) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[g.AttemptID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	if a.Status != StatusCompleted {
		return Attempt{}, ErrStaleAttempt
	}
	ans, ok := m.answers[a.ID][g.QuestionID]
	if !ok {
		return Attempt{}, ErrAnswerNotFound
	}
	ans.PointsAwarded = g.PointsAwarded
	ans.IsCorrect = &g.IsCorrect
	ans.GradedBy = g.GradedBy
	m.answers[a.ID][g.QuestionID] = ans

	earned := 0.0
	for _, x := range m.answers[a.ID] {
		earned += x.PointsAwarded
	}
	score, passed := rescore(earned)
	a.Score = &score
	a.IsPassed = &passed
	m.attempts[a.ID] = a
	return cloneAttempt(a), nil
}

func (m *memoryStore) ListActiveAttempts(_ context.Context) ([]Attempt, error) {
	return m.filter(func(a Attempt) bool { return a.Status == StatusInProgress }), nil
}

func (m *memoryStore) ListTerminalAttempts(_ context.Context, testID string) ([]Attempt, error) {
	return m.filter(func(a Attempt) bool { return a.TestID == testID && a.Status.Terminal() }), nil
}

func (m *memoryStore) ListUserAttempts(_ context.Context, userID string, page Page) ([]Attempt, int, error) {
	all := m.filter(func(a Attempt) bool { return a.UserID == userID })
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	if page.Offset >= total {
		return []Attempt{}, total, nil
	}
	end := total
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return all[page.Offset:end], total, nil
}

func (m *memoryStore) filter(keep func(Attempt) bool) []Attempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if keep(a) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneAttempt(a Attempt) Attempt {
	a.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	return a
}

func cloneQuestion(q Question) Question {
	q.Options = append([]Option(nil), q.Options...)
	return q
}
