package progress

import "testing"

func TestSummarize(t *testing.T) {
	t.Parallel()

	recs := []StageProgress{
		{UserID: "u", StageID: "1", IsCompleted: true, StarsEarned: 3, BestScore: 90, Attempts: 2},
		{UserID: "u", StageID: "2", IsCompleted: false, StarsEarned: 0, BestScore: 40, Attempts: 4},
		{UserID: "u", StageID: "3", IsCompleted: true, StarsEarned: 1, BestScore: 55, Attempts: 1},
	}

	got := Summarize(recs)
	want := Summary{UserID: "u", Stages: 3, CompletedCount: 2, TotalStars: 4, TotalBestScore: 185, TotalAttempts: 7}
	if got != want {
		t.Fatalf("summary=%+v want=%+v", got, want)
	}

	if got := Summarize(nil); got != (Summary{}) {
		t.Fatalf("empty summary=%+v", got)
	}
}

func TestViews_UnlockIsPassThrough(t *testing.T) {
	t.Parallel()

	stages := []string{"a", "b", "c", "d"}
	recs := []StageProgress{
		{StageID: "a", IsUnlocked: false},
		{StageID: "b", IsUnlocked: false, IsCompleted: true},
		{StageID: "c", IsUnlocked: true},
	}

	got := Views(stages, recs)
	want := []bool{true, false, true, false}
	for i, v := range got {
		if v.IsUnlocked != want[i] {
			t.Fatalf("stage %s unlocked=%v want=%v", v.StageID, v.IsUnlocked, want[i])
		}
	}
	if got[3].Progress != nil {
		t.Fatalf("unplayed stage must have nil progress")
	}
	if got[1].Progress == nil || !got[1].Progress.IsCompleted {
		t.Fatalf("stage b progress=%+v", got[1].Progress)
	}
}
