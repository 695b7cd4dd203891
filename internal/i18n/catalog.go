// Package i18n turns the engine's typed reasons and errors into
// user-facing messages. The engine itself never sees a locale.
package i18n

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
)

// Key identifies a message.
type Key string

const (
	KeyNotPublished        Key = "NOT_PUBLISHED"
	KeyNotAvailableYet     Key = "NOT_AVAILABLE_YET"
	KeyNoLongerAvailable   Key = "NO_LONGER_AVAILABLE"
	KeyAlreadyInProgress   Key = "ALREADY_IN_PROGRESS"
	KeyMaxAttemptsExceeded Key = "MAX_ATTEMPTS_EXCEEDED"
	KeyNotInProgress       Key = "NOT_IN_PROGRESS"
	KeyTestNotFound        Key = "TEST_NOT_FOUND"
	KeyQuestionNotFound    Key = "QUESTION_NOT_FOUND"
	KeyAttemptNotFound     Key = "ATTEMPT_NOT_FOUND"
	KeyAnswerNotFound      Key = "ANSWER_NOT_FOUND"
	KeyForbidden           Key = "FORBIDDEN"
	KeyTestLocked          Key = "TEST_LOCKED"
	KeyValidation          Key = "VALIDATION_ERROR"
)

var messages = map[language.Tag]map[Key]string{
	language.English: {
		KeyNotPublished:        "This test is not published.",
		KeyNotAvailableYet:     "This test is not available yet.",
		KeyNoLongerAvailable:   "This test is no longer available.",
		KeyAlreadyInProgress:   "You already have an attempt in progress for this test.",
		KeyMaxAttemptsExceeded: "You have used all %d attempts for this test.",
		KeyNotInProgress:       "This attempt is not in progress.",
		KeyTestNotFound:        "Test not found.",
		KeyQuestionNotFound:    "Question not found.",
		KeyAttemptNotFound:     "Test result not found.",
		KeyAnswerNotFound:      "No answer was submitted for this question.",
		KeyForbidden:           "You do not have access to this resource.",
		KeyTestLocked:          "This test already has attempts and can no longer be changed this way.",
		KeyValidation:          "Invalid input: %s",
	},
	language.Russian: {
		KeyNotPublished:        "Тест не опубликован.",
		KeyNotAvailableYet:     "Тест пока недоступен.",
		KeyNoLongerAvailable:   "Тест больше недоступен.",
		KeyAlreadyInProgress:   "У вас уже есть незавершённая попытка по этому тесту.",
		KeyMaxAttemptsExceeded: "Вы использовали все попытки (%d) для этого теста.",
		KeyNotInProgress:       "Эта попытка не активна.",
		KeyTestNotFound:        "Тест не найден.",
		KeyQuestionNotFound:    "Вопрос не найден.",
		KeyAttemptNotFound:     "Результат теста не найден.",
		KeyAnswerNotFound:      "На этот вопрос не было ответа.",
		KeyForbidden:           "У вас нет доступа к этому ресурсу.",
		KeyTestLocked:          "По тесту уже есть попытки, изменить его таким образом нельзя.",
		KeyValidation:          "Некорректные данные: %s",
	},
}

// Supported lists the catalog languages. English is the default fallback.
var Supported = []language.Tag{language.English, language.Russian}

type Localizer struct {
	tags     []language.Tag // fallback first
	matcher  language.Matcher
	fallback language.Tag
}

// New builds a Localizer whose fallback is defaultLocale when supported.
func New(defaultLocale string) *Localizer {
	fallback := language.English
	if t, err := language.Parse(defaultLocale); err == nil {
		if _, i, conf := language.NewMatcher(Supported).Match(t); conf != language.No {
			fallback = Supported[i]
		}
	}
	tags := []language.Tag{fallback}
	for _, t := range Supported {
		if t != fallback {
			tags = append(tags, t)
		}
	}
	return &Localizer{tags: tags, matcher: language.NewMatcher(tags), fallback: fallback}
}

// Match picks a catalog language for an Accept-Language header value.
func (l *Localizer) Match(acceptLanguage string) language.Tag {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return l.fallback
	}
	_, i, conf := l.matcher.Match(prefs...)
	if conf == language.No {
		return l.fallback
	}
	return l.tags[i]
}

// Message formats key in tag, falling back to the default language and then
// to the key itself.
func (l *Localizer) Message(tag language.Tag, key Key, args ...any) string {
	format, ok := messages[tag][key]
	if !ok {
		if format, ok = messages[l.fallback][key]; !ok {
			return string(key)
		}
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

type ctxKey struct{}

func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, ctxKey{}, tag)
}

func FromContext(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(ctxKey{}).(language.Tag)
	return tag, ok
}

func (l *Localizer) lang(ctx context.Context) language.Tag {
	if tag, ok := FromContext(ctx); ok {
		return tag
	}
	return l.fallback
}
