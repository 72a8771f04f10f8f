package progress_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress/progresstest"
)

func newAPI(t *testing.T, baseURL string, token string) *backend.Client {
	t.Helper()

	api, err := backend.New(backend.Config{BaseURL: baseURL, Timeout: 2 * time.Second},
		backend.WithTokenSource(backend.TokenFunc(func() string { return token })))
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return api
}

func newFake(t *testing.T, opts ...progresstest.Option) (*progresstest.Server, *progress.Client) {
	t.Helper()

	srv := progresstest.New(opts...)
	t.Cleanup(srv.Close)

	c := progress.NewClient(newAPI(t, srv.URL(), ""), progress.Options{ConflictBackoff: time.Millisecond})
	return srv, c
}

func TestGetUserStageProgress_MissingIsNil(t *testing.T) {
	t.Parallel()

	_, c := newFake(t)
	rec, err := c.GetUserStageProgress(context.Background(), "u1", "s1")
	if err != nil {
		t.Fatalf("err=%v want nil", err)
	}
	if rec != nil {
		t.Fatalf("rec=%+v want nil", rec)
	}
}

func TestGetUserStageProgress_NotFoundShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"404", http.StatusNotFound, `{"message":"Not Found"}`},
		{"empty body", http.StatusOK, ``},
		{"null", http.StatusOK, `null`},
		{"empty list", http.StatusOK, `[]`},
		{"empty object", http.StatusOK, `{}`},
		{"null data envelope", http.StatusOK, `{"data":null}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			c := progress.NewClient(newAPI(t, srv.URL, ""), progress.Options{})
			rec, err := c.GetUserStageProgress(context.Background(), "u1", "s1")
			if err != nil || rec != nil {
				t.Fatalf("rec=%+v err=%v want nil,nil", rec, err)
			}
		})
	}
}

func TestGetUserStageProgress_ListPicksMatchingRecord(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","userId":"u1","stageId":"s0"},{"id":"b","userId":"u1","stageId":"s1","bestScore":40}]`))
	}))
	t.Cleanup(srv.Close)

	c := progress.NewClient(newAPI(t, srv.URL, ""), progress.Options{})
	rec, err := c.GetUserStageProgress(context.Background(), "u1", "s1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rec == nil || rec.ID != "b" || rec.BestScore != 40 {
		t.Fatalf("rec=%+v want id=b", rec)
	}
}

func TestGetUserStageProgress_FailuresAreNotNil(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := progress.NewClient(newAPI(t, srv.URL, ""), progress.Options{})
	if _, err := c.GetUserStageProgress(context.Background(), "u1", "s1"); !errors.Is(err, backend.ErrServer) {
		t.Fatalf("err=%v want server", err)
	}

	srv.Close()
	if _, err := c.GetUserStageProgress(context.Background(), "u1", "s1"); !backend.IsNetwork(err) {
		t.Fatalf("err=%v want network", err)
	}
}

func TestRecordAttempt_BestIsMaxAttemptsIsCount(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t)
	ctx := context.Background()

	scores := []int{30, 70, 50, 90, 10}
	for _, s := range scores {
		if _, err := c.RecordAttempt(ctx, "u1", "s1", s); err != nil {
			t.Fatalf("RecordAttempt(%d): %v", s, err)
		}
	}

	recs := srv.Records()
	if len(recs) != 1 {
		t.Fatalf("records=%d want=1", len(recs))
	}
	got := recs[0]
	if got.BestScore != 90 {
		t.Fatalf("bestScore=%d want=90", got.BestScore)
	}
	if got.Attempts != len(scores) {
		t.Fatalf("attempts=%d want=%d", got.Attempts, len(scores))
	}
	if got.CurrentScore != 10 {
		t.Fatalf("currentScore=%d want=10", got.CurrentScore)
	}
	if got.LastAttemptAt == nil {
		t.Fatalf("lastAttemptAt not set")
	}
}

func TestRecordAttempt_ConcurrentFirstWritersYieldOneRecord(t *testing.T) {
	t.Parallel()

	var arrived atomic.Int32
	both := make(chan struct{})
	srv, c := newFake(t, progresstest.WithHooks(progresstest.Hooks{
		BeforeGet: func(string, string) {
			n := arrived.Add(1)
			if n == 2 {
				close(both)
			}
			if n <= 2 {
				select {
				case <-both:
				case <-time.After(5 * time.Second):
				}
			}
		},
	}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, score := range []int{40, 60} {
		wg.Add(1)
		go func(i, score int) {
			defer wg.Done()
			_, errs[i] = c.RecordAttempt(context.Background(), "u1", "s1", score)
		}(i, score)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	recs := srv.Records()
	if len(recs) != 1 {
		t.Fatalf("records=%d want=1", len(recs))
	}
	if recs[0].Attempts != 2 {
		t.Fatalf("attempts=%d want=2", recs[0].Attempts)
	}
	if recs[0].BestScore != 60 {
		t.Fatalf("bestScore=%d want=60", recs[0].BestScore)
	}
	if srv.Creates() != 1 || srv.Conflicts() != 1 {
		t.Fatalf("creates=%d conflicts=%d want=1,1", srv.Creates(), srv.Conflicts())
	}
}

func TestUpsertProgress_ConflictThenStillMissingIsFatal(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t, progresstest.WithHooks(progresstest.Hooks{
		HideOnGet: func(string, string) bool { return true },
	}))
	srv.Seed(progress.StageProgress{UserID: "u1", StageID: "s1", Attempts: 3})

	_, err := c.UpsertProgress(context.Background(), "u1", "s1", progress.Patch{CurrentScore: progress.Int(5)})
	if !progress.IsFatalConflict(err) {
		t.Fatalf("err=%v want fatal conflict", err)
	}
	if !backend.IsConflict(err) {
		t.Fatalf("err=%v want to match backend.ErrConflict", err)
	}
	if srv.Conflicts() != 1 {
		t.Fatalf("conflicts=%d want=1 (no second create)", srv.Conflicts())
	}
}

func TestUpsertProgress_ConflictResolvedByReread(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	srv, c := newFake(t, progresstest.WithHooks(progresstest.Hooks{
		HideOnGet: func(string, string) bool { return gets.Add(1) == 1 },
	}))
	srv.Seed(progress.StageProgress{UserID: "u1", StageID: "s1", Attempts: 3, BestScore: 80})

	rec, err := c.RecordAttempt(context.Background(), "u1", "s1", 20)
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if rec.Attempts != 4 || rec.BestScore != 80 || rec.CurrentScore != 20 {
		t.Fatalf("rec=%+v want attempts=4 best=80 current=20", rec)
	}
	if len(srv.Records()) != 1 {
		t.Fatalf("records=%d want=1", len(srv.Records()))
	}
}

func TestCompleteStage_DoesNotMaxMergeBestScore(t *testing.T) {
	t.Parallel()

	// Known foot-gun: completing with a score below the recorded best lowers bestScore.
	srv, c := newFake(t)
	ctx := context.Background()

	for _, s := range []int{70, 50} {
		if _, err := c.RecordAttempt(ctx, "u", "1", s); err != nil {
			t.Fatalf("RecordAttempt(%d): %v", s, err)
		}
	}
	rec, err := c.CompleteStage(ctx, "u", "1", 50, 1)
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}

	if rec.BestScore != 50 {
		t.Fatalf("bestScore=%d want=50", rec.BestScore)
	}
	stored := srv.Records()[0]
	if stored.BestScore != 50 || !stored.IsCompleted || stored.StarsEarned != 1 || stored.Attempts != 2 {
		t.Fatalf("stored=%+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
}

func TestCompleteStage_NeverLowersStars(t *testing.T) {
	t.Parallel()

	// Unlike bestScore, starsEarned is a record invariant: a lower-score retry
	// must not drop it below the previously recorded value, so the write path
	// keeps the higher stars even for CompleteStage.
	srv, c := newFake(t)
	ctx := context.Background()

	if _, err := c.CompleteStage(ctx, "u", "1", 90, 3); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if _, err := c.CompleteStage(ctx, "u", "1", 40, 1); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if got := srv.Records()[0].StarsEarned; got != 3 {
		t.Fatalf("stars=%d want=3", got)
	}
}

func TestUpsertProgress_CompletionIsMonotonicUntilReset(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t)
	ctx := context.Background()

	if _, err := c.CompleteStage(ctx, "u", "1", 80, 2); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if _, err := c.UpsertProgress(ctx, "u", "1", progress.Patch{IsCompleted: progress.Bool(false), CurrentScore: progress.Int(10)}); err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	got := srv.Records()[0]
	if !got.IsCompleted || got.CurrentScore != 10 {
		t.Fatalf("after upsert=%+v want completed, current=10", got)
	}

	rec, err := c.ResetStageProgress(ctx, "u", "1")
	if err != nil {
		t.Fatalf("ResetStageProgress: %v", err)
	}
	if rec.IsCompleted || rec.Attempts != 0 || rec.BestScore != 0 || rec.StarsEarned != 0 || rec.CompletedAt != nil {
		t.Fatalf("after reset=%+v", rec)
	}
}

func TestResetStageProgress_MissingIsNoop(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t)
	rec, err := c.ResetStageProgress(context.Background(), "u", "1")
	if err != nil || rec != nil {
		t.Fatalf("rec=%+v err=%v want nil,nil", rec, err)
	}
	if srv.Creates() != 0 {
		t.Fatalf("creates=%d want=0", srv.Creates())
	}
}

func TestUpdateBestScore(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t)
	ctx := context.Background()

	if _, err := c.UpdateBestScore(ctx, "u", "1", 40); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.UpdateBestScore(ctx, "u", "1", 30); err != nil {
		t.Fatalf("lower: %v", err)
	}
	if got := srv.Records()[0].BestScore; got != 40 {
		t.Fatalf("bestScore=%d want=40", got)
	}
	if _, err := c.UpdateBestScore(ctx, "u", "1", 75); err != nil {
		t.Fatalf("higher: %v", err)
	}
	if got := srv.Records()[0].BestScore; got != 75 {
		t.Fatalf("bestScore=%d want=75", got)
	}
}

func TestWriteGate_RejectsWithoutRequest(t *testing.T) {
	t.Parallel()

	srv := progresstest.New()
	t.Cleanup(srv.Close)

	closed := errors.New("logged out")
	c := progress.NewClient(newAPI(t, srv.URL(), ""), progress.Options{
		Gate: progress.GateFunc(func() error { return closed }),
	})

	_, err := c.RecordAttempt(context.Background(), "u", "1", 10)
	if !progress.IsAuthRequired(err) {
		t.Fatalf("err=%v want auth required", err)
	}
	if srv.Creates() != 0 {
		t.Fatalf("creates=%d want=0", srv.Creates())
	}

	// Reads stay open.
	if _, err := c.GetUserStageProgress(context.Background(), "u", "1"); err != nil {
		t.Fatalf("read err=%v", err)
	}
}

func TestRecordAttempt_TrimsKeys(t *testing.T) {
	t.Parallel()

	srv, c := newFake(t)
	ctx := context.Background()

	if _, err := c.RecordAttempt(ctx, " u1", "s1 ", 30); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	rec, err := c.RecordAttempt(ctx, "u1\t", " s1", 60)
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if rec.Attempts != 2 || rec.BestScore != 60 {
		t.Fatalf("attempts=%d best=%d want=2/60", rec.Attempts, rec.BestScore)
	}

	recs := srv.Records()
	if len(recs) != 1 || recs[0].UserID != "u1" || recs[0].StageID != "s1" {
		t.Fatalf("records=%+v want one (u1, s1)", recs)
	}
	got, err := c.GetUserStageProgress(ctx, "  u1 ", "s1")
	if err != nil || got == nil || got.ID != recs[0].ID {
		t.Fatalf("GetUserStageProgress=%+v err=%v", got, err)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, c := newFake(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"empty user", func() error { _, err := c.RecordAttempt(ctx, "", "1", 1); return err }},
		{"blank stage", func() error { _, err := c.GetUserStageProgress(ctx, "u", "  "); return err }},
		{"negative score", func() error { _, err := c.RecordAttempt(ctx, "u", "1", -1); return err }},
		{"negative stars", func() error { _, err := c.CompleteStage(ctx, "u", "1", 10, -2); return err }},
		{"negative patch", func() error {
			_, err := c.UpsertProgress(ctx, "u", "1", progress.Patch{Attempts: progress.Int(-1)})
			return err
		}},
		{"update without id", func() error { _, err := c.UpdateProgress(ctx, "", progress.Patch{}); return err }},
	}
	for _, tc := range cases {
		err := tc.call()
		if !progress.IsInvalidInput(err) {
			t.Fatalf("%s: err=%v want invalid input", tc.name, err)
		}
		if !backend.IsValidation(err) {
			t.Fatalf("%s: err=%v want to match backend.ErrValidation", tc.name, err)
		}
	}
}

func TestUnauthorizedSurfaces(t *testing.T) {
	t.Parallel()

	srv := progresstest.New(progresstest.WithAuth("good", "pw"))
	t.Cleanup(srv.Close)

	c := progress.NewClient(newAPI(t, srv.URL(), "bad"), progress.Options{})
	if _, err := c.RecordAttempt(context.Background(), "u", "1", 10); !backend.IsUnauthorized(err) {
		t.Fatalf("err=%v want unauthorized", err)
	}

	ok := progress.NewClient(newAPI(t, srv.URL(), "good"), progress.Options{})
	if _, err := ok.RecordAttempt(context.Background(), "u", "1", 10); err != nil {
		t.Fatalf("authorized err=%v", err)
	}
}

func TestOnWriteFeedsBoard(t *testing.T) {
	t.Parallel()

	srv := progresstest.New()
	t.Cleanup(srv.Close)

	board := progress.NewBoard()
	var summaries []progress.Summary
	board.Subscribe(func(s progress.Summary) { summaries = append(summaries, s) })

	c := progress.NewClient(newAPI(t, srv.URL(), ""), progress.Options{OnWrite: board.Apply})
	ctx := context.Background()
	if _, err := c.CompleteStage(ctx, "u", "1", 80, 3); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if _, err := c.RecordAttempt(ctx, "u", "2", 20); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	got := board.Summary()
	want := progress.Summary{UserID: "u", Stages: 2, CompletedCount: 1, TotalStars: 3, TotalBestScore: 100, TotalAttempts: 1}
	if got != want {
		t.Fatalf("summary=%+v want=%+v", got, want)
	}
	if len(summaries) != 2 {
		t.Fatalf("notifications=%d want=2", len(summaries))
	}

	// Reload from the backend matches the incremental view.
	fresh := progress.NewBoard()
	if err := fresh.Load(ctx, c, "u"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh.Summary() != want {
		t.Fatalf("loaded=%+v want=%+v", fresh.Summary(), want)
	}
}
