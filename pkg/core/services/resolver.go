package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const DefaultResolveTimeout = 10 * time.Second

// Resolution is where a short code sends the visitor.
type Resolution struct {
	Target string
	LinkID int64
}

// CodeResolver turns a short code into a Resolution or a *domain.ResolveError.
type CodeResolver interface {
	Resolve(ctx context.Context, code string) (Resolution, error)
}

// Resolver looks short codes up through the gateway. It never writes.
type Resolver struct {
	gateway ports.LinkGateway
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewResolver(gateway ports.LinkGateway, timeout time.Duration, logger logrus.FieldLogger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Resolver{
		gateway: gateway,
		timeout: timeout,
		now:     time.Now,
		log:     logger.WithField("component", "resolver"),
	}
}

// Resolve matches code exactly against stored short codes. The returned
// error is always a *domain.ResolveError.
func (r *Resolver) Resolve(ctx context.Context, code string) (Resolution, error) {
	if code == "" {
		return Resolution{}, &domain.ResolveError{Code: code, Kind: domain.ErrLinkNotFound}
	}

	link, err := withTimeout(ctx, r.timeout, func(ctx context.Context) (*domain.Link, error) {
		return r.gateway.GetLinkBySlug(ctx, code)
	})
	if err != nil {
		kind := domain.ErrBackend
		if errors.Is(err, domain.ErrTimeout) {
			kind = domain.ErrTimeout
		}
		r.log.WithError(err).WithFields(logrus.Fields{
			"short_code": code,
			"kind":       kind.Error(),
		}).Warn("Short code lookup failed")
		return Resolution{}, &domain.ResolveError{Code: code, Kind: kind, Cause: err}
	}
	if link == nil {
		return Resolution{}, &domain.ResolveError{Code: code, Kind: domain.ErrLinkNotFound}
	}

	// Active is checked before expiry.
	if !link.Active {
		return Resolution{}, &domain.ResolveError{Code: code, Kind: domain.ErrLinkInactive}
	}
	if link.Expired(r.now()) {
		return Resolution{}, &domain.ResolveError{Code: code, Kind: domain.ErrLinkExpired}
	}

	return Resolution{Target: link.TargetURL, LinkID: link.ID}, nil
}
