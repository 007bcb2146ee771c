package driving

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// CallDataService fetches call data from provider resource APIs on behalf of a user.
// Every call obtains its bearer token through the token lifecycle manager.
type CallDataService interface {
	// ReportSummaries returns the call-events report for the day containing day.
	ReportSummaries(ctx context.Context, userID string, day time.Time) (*domain.ReportSummaries, error)

	// CallQueues lists call queues for an account, trying endpoint strategies in order.
	CallQueues(ctx context.Context, userID, accountKey string) (*domain.CallQueues, error)

	// UserLines returns the phone lines assigned to the connected principal.
	UserLines(ctx context.Context, userID string) (json.RawMessage, error)
}
