package messagehub

import (
	"context"

	"github.com/coregx/messagehub/model"
)

// ContentRequester asks the domain owning a bundle's notifications to prepare
// its payload.
//
// RequestContent returns nil, nil when the domain did not answer within the
// configured timeout. A domain refusal is a successful call whose result
// carries a Failure.
type ContentRequester interface {
	RequestContent(ctx context.Context, bundle model.Bundle) (*ContentResult, error)
}

// ContentResult is the domain's answer to a content request.
type ContentResult struct {
	ContentURI string
	Failure    *ContentFailure
}

// ContentFailure describes why a domain could not prepare content.
type ContentFailure struct {
	Reason      model.FailureReason
	Description string
}

// contentPath obtains the content URI for a bundle. ok is false when no
// content could be obtained and the bundle must not be delivered.
type contentPath interface {
	resolve(ctx context.Context, bundle *model.Bundle) (uri string, ok bool, err error)
}

// savedContentPath serves a bundle that already carries its content.
type savedContentPath struct{}

func (savedContentPath) resolve(_ context.Context, bundle *model.Bundle) (string, bool, error) {
	return *bundle.Content, true, nil
}

// domainContentPath requests content from the owning domain.
type domainContentPath struct {
	requester     ContentRequester
	notifications NotificationService
	logger        Logger
}

func (p domainContentPath) resolve(ctx context.Context, bundle *model.Bundle) (string, bool, error) {
	if err := bundle.MarkAwaitingContent(); err != nil {
		return "", false, err
	}

	result, err := p.requester.RequestContent(ctx, *bundle)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		if HasCode(err, ErrCodeProtocol) {
			return "", false, err
		}
		p.logger.Errorf("Content request failed: bundle_id=%s, origin=%s, error=%v", bundle.ID, bundle.Origin, err)
		return "", false, nil
	}

	if result == nil {
		p.logger.Warnf("Content request timed out: bundle_id=%s, origin=%s", bundle.ID, bundle.Origin)
		if nerr := p.notifications.NotifyContentTimeout(ctx, *bundle); nerr != nil {
			p.logger.Warnf("Failed to send timeout notification: %v", nerr)
		}
		return "", false, nil
	}

	if result.Failure != nil {
		p.logger.Warnf("Domain refused content request: bundle_id=%s, origin=%s, reason=%s",
			bundle.ID, bundle.Origin, result.Failure.Reason)
		if nerr := p.notifications.NotifyContentFailure(ctx, *bundle, result.Failure.Reason, result.Failure.Description); nerr != nil {
			p.logger.Warnf("Failed to send failure notification: %v", nerr)
		}
		return "", false, nil
	}

	return result.ContentURI, true, nil
}

// selectContentPath picks how the content of bundle is obtained: reuse what is
// saved, or ask the domain.
func selectContentPath(bundle *model.Bundle, domain domainContentPath) contentPath {
	if bundle.HasContent() {
		return savedContentPath{}
	}
	return domain
}
