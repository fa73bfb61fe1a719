package sheets

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
	"github.com/custodia-labs/bisync/internal/core/domain"
)

// wrapError converts a Sheets API error into a *domain.RemoteError.
// Context errors are returned unchanged.
func wrapError(store string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return domain.NewTransportError(store, err)
	}

	msg := gerr.Message
	if msg == "" {
		msg = gerr.Body
	}
	re := domain.NewRemoteError(store, gerr.Code, msg)
	if re.Err == nil {
		re.Err = gerr
	}
	if gerr.Header != nil {
		re.RetryAfter = rest.ParseRetryAfter(gerr.Header.Get(rest.HeaderRetryAfter), time.Now())
	}
	return re
}
