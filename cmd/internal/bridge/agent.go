package bridge

import (
	"context"
	"encoding/json"

	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

// Agent is the sync agent behind the gateway. Commands that change session or
// connectivity state answer through broadcasts; the gateway only relays errors.
type Agent interface {
	Snapshot(ctx context.Context) v1.HelloAckPayload

	Visibility(visible bool)
	Focus()
	Network(ctx context.Context, online bool)
	Retry(ctx context.Context) v1.ConnectivityPayload

	Extend() error
	Login(ctx context.Context, p v1.LoginPayload) error
	Logout() error

	RecordAttempt(ctx context.Context, stageID string, score int) (json.RawMessage, error)
	CompleteStage(ctx context.Context, stageID string, score, stars int) (json.RawMessage, error)
	Summary(ctx context.Context, stageIDs []string) (v1.ProgressSummaryPayload, error)
}
