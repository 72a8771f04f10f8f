package progress

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type stageKey struct {
	UserID  string `validate:"required,max=128"`
	StageID string `validate:"required,max=128"`
}

type userKey struct {
	UserID string `validate:"required,max=128"`
}

type scoreInput struct {
	Score int `validate:"gte=0"`
	Stars int `validate:"gte=0,lte=1000"`
}

type patchInput struct {
	CurrentScore *int `validate:"omitempty,gte=0"`
	BestScore    *int `validate:"omitempty,gte=0"`
	StarsEarned  *int `validate:"omitempty,gte=0"`
	Attempts     *int `validate:"omitempty,gte=0"`
}

// validateKey returns the trimmed ids that callers must use from then on.
func validateKey(op, userID, stageID string) (string, string, error) {
	k := stageKey{UserID: strings.TrimSpace(userID), StageID: strings.TrimSpace(stageID)}
	return k.UserID, k.StageID, check(op, k)
}

func validateUser(op, userID string) (string, error) {
	k := userKey{UserID: strings.TrimSpace(userID)}
	return k.UserID, check(op, k)
}

func validateScore(op string, score, stars int) error {
	return check(op, scoreInput{Score: score, Stars: stars})
}

func validatePatch(op string, p Patch) error {
	return check(op, patchInput{
		CurrentScore: p.CurrentScore,
		BestScore:    p.BestScore,
		StarsEarned:  p.StarsEarned,
		Attempts:     p.Attempts,
	})
}

func check(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+":"+fe.Tag())
		}
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: strings.Join(fields, ",")}
	}
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
}
