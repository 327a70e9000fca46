package services

import (
	"context"
	"errors"
	"net/url"

	"github.com/bookverse/payment-bridge/pkg/vnpay"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NavigationHook is the browser callback a navigation was observed on
type NavigationHook string

const (
	NavigationStarted  NavigationHook = "navigation_started"
	NavigationFinished NavigationHook = "navigation_finished"
)

// NavigationAction tells the shell what to do with a navigation
type NavigationAction string

const (
	NavigationAllow NavigationAction = "allow"
	NavigationBlock NavigationAction = "block"
)

// NavigationDecision is the interceptor's answer for one navigation
type NavigationDecision struct {
	Action     NavigationAction `json:"action"`
	ReturnKind vnpay.ReturnKind `json:"return_kind,omitempty"`
	Orphan     bool             `json:"orphan,omitempty"`
}

// returnRouter is the part of the session manager the interceptor needs
type returnRouter interface {
	GatewayLoading(ctx context.Context, id uuid.UUID, rawURL string) error
	DeliverReturn(ctx context.Context, id uuid.UUID, rawURL string) error
	HandleOrphanReturn(userID, rawURL string)
}

// BrowserInterceptor classifies navigations of the embedded payment browser.
// Return URLs are blocked and handed to the session; everything else loads.
type BrowserInterceptor struct {
	matcher vnpay.ReturnMatcher
	router  returnRouter
	logger  *logrus.Logger
}

// NewBrowserInterceptor creates a new interceptor
func NewBrowserInterceptor(matcher vnpay.ReturnMatcher, router returnRouter, logger *logrus.Logger) *BrowserInterceptor {
	return &BrowserInterceptor{
		matcher: matcher,
		router:  router,
		logger:  logger,
	}
}

// OnNavigation classifies a navigation inside the browser surface of a session
func (i *BrowserInterceptor) OnNavigation(ctx context.Context, userID string, sessionID uuid.UUID, hook NavigationHook, rawURL string) (NavigationDecision, error) {
	kind := i.matcher.Match(rawURL)

	if kind == vnpay.ReturnNone {
		if hook == NavigationStarted {
			if err := i.router.GatewayLoading(ctx, sessionID, rawURL); err != nil && !errors.Is(err, ErrSessionNotFound) {
				return NavigationDecision{Action: NavigationAllow}, err
			}
		}
		return NavigationDecision{Action: NavigationAllow}, nil
	}

	decision := NavigationDecision{Action: NavigationBlock, ReturnKind: kind}

	err := i.router.DeliverReturn(ctx, sessionID, rawURL)
	if errors.Is(err, ErrSessionNotFound) {
		i.router.HandleOrphanReturn(userID, rawURL)
		decision.Orphan = true
		return decision, nil
	}
	if err != nil {
		return decision, err
	}

	i.logger.WithFields(logrus.Fields{
		"session_id":  sessionID.String(),
		"hook":        hook,
		"return_kind": kind,
		"host":        hostOf(rawURL),
	}).Debug("Gateway return intercepted")

	return decision, nil
}

// OnExternalReturn handles a URL that reached the app outside any browser
// session, such as a deep link on cold start
func (i *BrowserInterceptor) OnExternalReturn(userID, rawURL string) NavigationDecision {
	kind := i.matcher.Match(rawURL)
	if kind == vnpay.ReturnNone {
		return NavigationDecision{Action: NavigationAllow}
	}
	i.router.HandleOrphanReturn(userID, rawURL)
	return NavigationDecision{Action: NavigationBlock, ReturnKind: kind, Orphan: true}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
