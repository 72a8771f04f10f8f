package progress

// Summary is the UI-facing fold of one user's records.
type Summary struct {
	UserID         string `json:"userId,omitempty"`
	Stages         int    `json:"stages"`
	CompletedCount int    `json:"completedCount"`
	TotalStars     int    `json:"totalStars"`
	TotalBestScore int    `json:"totalBestScore"`
	TotalAttempts  int    `json:"totalAttempts"`
}

// Summarize folds records into totals. It is pure; callers pass one record per stage.
func Summarize(records []StageProgress) Summary {
	var s Summary
	for _, r := range records {
		s.Stages++
		s.TotalStars += r.StarsEarned
		s.TotalBestScore += r.BestScore
		s.TotalAttempts += r.Attempts
		if r.IsCompleted {
			s.CompletedCount++
		}
	}
	if len(records) > 0 {
		s.UserID = records[0].UserID
	}
	return s
}

// StageView pairs an ordered stage with its record (nil when never played).
type StageView struct {
	StageID    string         `json:"stageId"`
	IsUnlocked bool           `json:"isUnlocked"`
	Progress   *StageProgress `json:"progress,omitempty"`
}

// Views lays records over the ordered stage list. The first stage is always
// unlocked; every other stage is unlocked only if its record says so.
// Prerequisite chains are the backend's business.
func Views(stageIDs []string, records []StageProgress) []StageView {
	byStage := make(map[string]*StageProgress, len(records))
	for i := range records {
		byStage[records[i].StageID] = &records[i]
	}

	out := make([]StageView, 0, len(stageIDs))
	for i, id := range stageIDs {
		v := StageView{StageID: id}
		if rec, ok := byStage[id]; ok {
			cp := *rec
			v.Progress = &cp
			v.IsUnlocked = rec.IsUnlocked
		}
		if i == 0 {
			v.IsUnlocked = true
		}
		out = append(out, v)
	}
	return out
}
