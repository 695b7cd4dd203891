package exam

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// OptionView is an option as shown to a learner. It has no field that could
// carry correctness.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuestionView struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	PointValue float64      `json:"pointValue"`
	Options    []OptionView `json:"options,omitempty"`
}

// AttemptView is the presentation of an attempt in progress.
type AttemptView struct {
	AttemptID string         `json:"attemptId"`
	TestID    string         `json:"testId"`
	StartedAt time.Time      `json:"startedAt"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Questions []QuestionView `json:"questions"`
}

// QuestionOrder returns question ids in canonical order, permuted by seed when
// shuffle is set. The input must already be sorted by sort order.
func QuestionOrder(questions []Question, shuffle bool, seed int64) []string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	if shuffle {
		permute(len(ids), seed, "", func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids
}

// Present builds the learner view following the attempt's stored order.
// Options are permuted per question with a seed derived from (seed, question id).
func Present(t Test, questions []Question, order []string, seed int64) []QuestionView {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]QuestionView, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			continue
		}
		v := QuestionView{QuestionID: q.ID, Type: q.Type, Prompt: q.Prompt, PointValue: q.PointValue}
		if q.Type == SingleChoice {
			v.Options = make([]OptionView, len(q.Options))
			for i, o := range q.Options {
				v.Options[i] = OptionView{ID: o.ID, Text: o.Text}
			}
			if t.ShuffleOptions {
				opts := v.Options
				permute(len(opts), seed, q.ID, func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
			}
		}
		out = append(out, v)
	}
	return out
}

// permute is a Fisher-Yates shuffle over a PCG stream keyed by (seed, salt).
// It only relies on the PCG output sequence, so a stored seed reproduces the
// same permutation across releases.
func permute(n int, seed int64, salt string, swap func(i, j int)) {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(salt))
	src := rand.NewPCG(uint64(seed), h.Sum64())
	for i := n - 1; i > 0; i-- {
		j := int(src.Uint64() % uint64(i+1))
		swap(i, j)
	}
}
