package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const DefaultGraceDelay = 1200 * time.Millisecond

type RedirectState int

const (
	StateLoading RedirectState = iota
	StateResolving
	StateRedirecting
	StateNotFound
)

func (s RedirectState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateResolving:
		return "resolving"
	case StateRedirecting:
		return "redirecting"
	case StateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Navigator performs the actual navigation once the grace delay is over.
type Navigator interface {
	Navigate(target string)
}

type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// RedirectService creates one RedirectSession per visit.
type RedirectService struct {
	resolver CodeResolver
	recorder ports.ScanRecorder
	grace    time.Duration
	log      logrus.FieldLogger
}

func NewRedirectService(resolver CodeResolver, recorder ports.ScanRecorder, grace time.Duration, logger logrus.FieldLogger) *RedirectService {
	if grace < 0 {
		grace = 0
	}
	return &RedirectService{
		resolver: resolver,
		recorder: recorder,
		grace:    grace,
		log:      logger.WithField("component", "redirect"),
	}
}

// WithGrace returns a copy of the service using a different grace delay.
func (s *RedirectService) WithGrace(grace time.Duration) *RedirectService {
	cp := *s
	if grace < 0 {
		grace = 0
	}
	cp.grace = grace
	return &cp
}

func (s *RedirectService) Grace() time.Duration {
	return s.grace
}

func (s *RedirectService) NewSession(code string, client domain.ClientContext, nav Navigator) *RedirectSession {
	return &RedirectSession{
		svc:    s,
		code:   code,
		client: client,
		nav:    nav,
		state:  StateLoading,
		done:   make(chan struct{}),
	}
}

// RedirectSession drives resolve, record and navigate for one visit.
// The sequence runs at most once per session no matter how often Start is
// called; the started flag is never reset.
type RedirectSession struct {
	svc    *RedirectService
	code   string
	client domain.ClientContext
	nav    Navigator

	mu        sync.Mutex
	started   bool
	closed    bool
	navigated bool
	state     RedirectState
	target    string
	failure   *domain.ResolveError
	timer     *time.Timer
	done      chan struct{}
}

// Start resolves the code, queues the scan and schedules navigation.
// It returns once the session has left the resolving state.
func (s *RedirectSession) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true

	if s.code == "" {
		s.fail(&domain.ResolveError{Code: s.code, Kind: domain.ErrLinkNotFound})
		s.mu.Unlock()
		return
	}
	s.state = StateResolving
	s.mu.Unlock()

	res, err := s.svc.resolver.Resolve(ctx, s.code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		var rerr *domain.ResolveError
		if !errors.As(err, &rerr) {
			rerr = &domain.ResolveError{Code: s.code, Kind: domain.ErrBackend, Cause: err}
		}
		s.fail(rerr)
		return
	}

	// Queued, not awaited: the grace delay does not depend on the write.
	s.svc.recorder.Record(res.LinkID, s.client)

	s.state = StateRedirecting
	s.target = res.Target
	close(s.done)

	if s.closed {
		return
	}
	s.timer = time.AfterFunc(s.svc.grace, s.navigate)
}

// Close ends the session. A pending navigation is cancelled; a queued
// scan is still written.
func (s *RedirectSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Done is closed when the session reaches Redirecting or NotFound.
func (s *RedirectSession) Done() <-chan struct{} {
	return s.done
}

func (s *RedirectSession) State() RedirectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target is the destination once the session is Redirecting.
func (s *RedirectSession) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Failure is set once the session is NotFound.
func (s *RedirectSession) Failure() *domain.ResolveError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Reason is the message shown in the NotFound state.
func (s *RedirectSession) Reason() string {
	if f := s.Failure(); f != nil {
		return f.Reason()
	}
	return ""
}

// fail must be called with mu held.
func (s *RedirectSession) fail(err *domain.ResolveError) {
	s.state = StateNotFound
	s.failure = err
	close(s.done)

	entry := s.svc.log.WithFields(logrus.Fields{
		"short_code": s.code,
		"kind":       err.Kind.Error(),
	})
	if err.Terminal() {
		entry.Info("Short code not resolvable")
	} else {
		entry.WithError(err.Cause).Warn("Short code resolution failed")
	}
}

func (s *RedirectSession) navigate() {
	s.mu.Lock()
	if s.closed || s.navigated || s.nav == nil {
		s.mu.Unlock()
		return
	}
	s.navigated = true
	target := s.target
	s.mu.Unlock()

	s.nav.Navigate(target)
}
