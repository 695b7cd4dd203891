package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assessment/internal/exam"
	"github.com/mind-engage/mindengage-assessment/internal/rbac"
)

// MountTests registers the test-taking API on r, normally under /tests.
// r must already carry authentication.
func MountTests(r chi.Router, eng exam.Engine, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	r.With(rbac.Require(rbac.PermAttemptViewOwn)).Get("/results/me", HistoryHandler(eng, log))
	r.With(rbac.Require(rbac.PermAttemptGrade)).Post("/results/{resultID}/grades", GradeHandler(eng, log))
	r.With(rbac.Require(rbac.PermAttemptCleanup)).Post("/attempts/cleanup", CleanupHandler(eng, log))

	r.Route("/{testID}", func(tr chi.Router) {
		tr.With(rbac.Require(rbac.PermTestTake)).Get("/can-take", CanTakeHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestTake)).Post("/start", StartHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestTake)).Get("/questions", QuestionsHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestTake)).Post("/submit", SubmitHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestTake)).Post("/abandon", AbandonHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestStats)).Get("/statistics", StatisticsHandler(eng, log))

		tr.With(rbac.Require(rbac.PermTestManage)).Put("/", PutTestHandler(eng, log))
		tr.With(rbac.Require(rbac.PermTestManage)).Delete("/", DeleteTestHandler(eng, log))
	})
}
