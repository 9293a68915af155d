// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/go-hclog"
)

// TokenExchanger exchanges codes and refresh tokens; satisfied by
// *oidc.TokenEndpointClient.
type TokenExchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, id *oidc.ClientIdentity, md *oidc.ProviderMetadata, code string, opt ...oidc.Option) (*oidc.TokenSet, error)
	Refresh(ctx context.Context, id *oidc.ClientIdentity, md *oidc.ProviderMetadata, t oidc.RefreshToken) (*oidc.TokenSet, error)
}

// Session is a single login session.  Every operation is serialized: a
// renewal in progress completes before a later Login or Logout is applied.
// The client identity and provider metadata are shared read-only.
//
// Events are delivered in transition order after the operation that caused
// them has released the session, so a listener may call back into it (for
// example Login on an ErrorState).
//
// A result that arrives after the session moved on (a later transition or
// Close) is discarded.
type Session struct {
	id        *oidc.ClientIdentity
	md        *oidc.ProviderMetadata
	exchanger TokenExchanger
	opts      options
	logger    hclog.Logger

	// opMu serializes operations, so transitions are totally ordered.  Events
	// are queued under it and dispatched once it's released.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	request    *oidc.AuthRequest
	generation uint64
	closed     bool
	timers     []*time.Timer

	subs subscribers

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Unauthenticated session.
//
// Supported options:
//   - WithLogger
//   - WithNow
//   - WithScopes
//   - WithAuthParams
//   - WithAuthRequestTTL
//   - WithAutomaticRenew
//   - WithExpiringNotificationTime
//   - WithSilentAuthorizer
//   - WithIdTokenVerifier
//   - WithUserInfo
//   - WithPostLogoutRedirectURL
func New(id *oidc.ClientIdentity, md *oidc.ProviderMetadata, exchanger TokenExchanger, opt ...Option) (*Session, error) {
	const op = "session.New"
	switch {
	case id == nil:
		return nil, fmt.Errorf("%s: client identity is nil: %w", op, oidc.ErrNilParameter)
	case exchanger == nil:
		return nil, fmt.Errorf("%s: token exchanger is nil: %w", op, oidc.ErrNilParameter)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		md:        md.Copy(),
		exchanger: exchanger,
		opts:      opts,
		logger:    opts.withLogger.Named("session"),
		state:     Unauthenticated{},
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// NewFromConfig resolves the provider's metadata and creates a session using
// a TokenEndpointClient for the config.  Scopes, auth params, id_token
// verification and the post logout redirect come from the config; opt
// overrides them.
//
// Supported options: every New option, and WithExchangerWrapper
func NewFromConfig(ctx context.Context, c *oidc.Config, opt ...Option) (*Session, error) {
	const op = "session.NewFromConfig"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	r, err := oidc.NewMetadataResolver(c, oidc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	md, err := r.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := c.ClientIdentity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tc, err := oidc.NewTokenEndpointClient(
		oidc.WithHTTPClient(r.HTTPClient()),
		oidc.WithLogger(logger),
		oidc.WithAssertionAudience(c.AssertionAudience),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var exchanger TokenExchanger = tc
	if opts.withExchangerWrapper != nil {
		exchanger = opts.withExchangerWrapper(tc)
	}
	fromConfig := []Option{
		WithScopes(c.Scopes...),
		WithAuthParams(c.AuthParams),
		WithPostLogoutRedirectURL(c.PostLogoutRedirectURL),
		WithUserInfo(r),
	}
	if c.VerifyIdToken {
		fromConfig = append(fromConfig, WithIdTokenVerifier(r))
	}
	return New(id, md, exchanger, append(fromConfig, opt...)...)
}

// Metadata returns the provider metadata used by the session.
func (s *Session) Metadata() *oidc.ProviderMetadata { return s.md.Copy() }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Tokens returns the current token set.  While Renewing, that's the
// previous token set.
func (s *Session) Tokens() (*oidc.TokenSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch st := s.state.(type) {
	case Authenticated:
		return st.Tokens, true
	case Renewing:
		return st.Previous, true
	default:
		return nil, false
	}
}

// Claims returns the current identity claims.
func (s *Session) Claims() (*oidc.IdentityClaims, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch st := s.state.(type) {
	case Authenticated:
		return st.Claims, st.Claims != nil
	case Renewing:
		return st.Claims, st.Claims != nil
	default:
		return nil, false
	}
}

// Subscribe registers l for every later event.  The returned func
// unsubscribes; it's safe to call more than once.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	return s.subs.add(l)
}

// Login starts an authorization and returns the URL the user agent must be
// sent to.  It's allowed from Unauthenticated, Error and Pending (which
// abandons the pending request).
func (s *Session) Login(ctx context.Context) (string, error) {
	const op = "Session.Login"
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, ErrClosed)
	}
	switch s.state.(type) {
	case Unauthenticated, ErrorState, Pending:
	default:
		cur := s.state.Status()
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w: login from %s", op, ErrInvalidTransition, cur)
	}
	s.mu.Unlock()

	req, err := oidc.NewAuthRequest(s.opts.withAuthRequestTTL, oidc.WithNow(s.opts.withNow))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := s.authURL(req, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, ErrClosed)
	}
	s.generation++
	s.stopTimersLocked()
	s.request = req
	next := Pending{AuthURL: authURL, RequestID: req.ID(), Expiration: req.Expiration()}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("login started", "state", req.ID())
	s.subs.enqueue(Event{Type: StateChanged, State: next})
	return authURL, nil
}

// Callback completes the pending authorization with the authorization
// response's state and code.  Failures move the session to Error; a callback
// when nothing is pending fails with ErrInvalidTransition, and one for some
// other request's state fails with ErrStateMismatch.  Neither changes the
// state.
func (s *Session) Callback(ctx context.Context, state, code string) error {
	const op = "Session.Callback"
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if _, ok := s.state.(Pending); !ok {
		cur := s.state.Status()
		s.mu.Unlock()
		return fmt.Errorf("%s: %w: callback from %s", op, ErrInvalidTransition, cur)
	}
	req := s.request
	if state != req.ID() {
		s.mu.Unlock()
		s.logger.Warn("ignoring callback for an unknown state", "state", state)
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	fail := func(err error) error {
		err = fmt.Errorf("%s: %w", op, err)
		s.commit(gen, ErrorState{Reason: reason("authentication failed", err), Err: err})
		return err
	}
	if req.IsExpired() {
		return fail(oidc.ErrExpiredRequest)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	ts, err := s.exchanger.ExchangeAuthorizationCode(ctx, s.id, s.md, code, oidc.WithCodeVerifier(req.CodeVerifier()))
	if err != nil {
		return fail(err)
	}
	claims, err := s.identityClaims(ctx, ts, req.Nonce(), nil)
	if err != nil {
		return fail(err)
	}
	if !s.commit(gen, Authenticated{Tokens: ts, Claims: claims}) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return nil
}

// CallbackError records an authorization error response (error and
// error_description) for the pending authorization; the session moves to
// Error.  Like Callback, a state other than the pending request's is rejected
// with ErrStateMismatch and the session stays Pending.
func (s *Session) CallbackError(state, errorCode, description string) error {
	const op = "Session.CallbackError"
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if _, ok := s.state.(Pending); !ok {
		cur := s.state.Status()
		s.mu.Unlock()
		return fmt.Errorf("%s: %w: callback from %s", op, ErrInvalidTransition, cur)
	}
	if state != s.request.ID() {
		s.mu.Unlock()
		s.logger.Warn("ignoring callback error for an unknown state", "state", state)
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	var err error
	switch {
	case description != "":
		err = fmt.Errorf("%s: %w: %s: %s", op, ErrProviderError, errorCode, description)
	default:
		err = fmt.Errorf("%s: %w: %s", op, ErrProviderError, errorCode)
	}
	s.commit(gen, ErrorState{Reason: reason("authentication failed", err), Err: err})
	return err
}

// AccessTokenExpired renews the access token, as if the expiry timer fired.
// It's the same as Refresh.
func (s *Session) AccessTokenExpired(ctx context.Context) error {
	return s.renew(ctx, 0)
}

// Refresh renews the current token set: with the refresh token when there is
// one, otherwise with the SilentAuthorizer.  The session is Renewing until
// it completes, then Authenticated with a new token set or Error.  There's a
// single attempt; it isn't retried.
func (s *Session) Refresh(ctx context.Context) error {
	return s.renew(ctx, 0)
}

// renew renews the current tokens.  A non-zero gen only renews if the session
// is still at that generation (a stale expiry timer is ignored).
func (s *Session) renew(ctx context.Context, gen uint64) error {
	const op = "Session.Refresh"
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if gen != 0 && gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	auth, ok := s.state.(Authenticated)
	if !ok {
		cur := s.state.Status()
		s.mu.Unlock()
		return fmt.Errorf("%s: %w: refresh from %s", op, ErrInvalidTransition, cur)
	}
	s.generation++
	gen = s.generation
	s.stopTimersLocked()
	renewing := Renewing{Previous: auth.Tokens, Claims: auth.Claims}
	s.state = renewing
	s.mu.Unlock()

	s.logger.Debug("renewing tokens")
	s.subs.enqueue(Event{Type: StateChanged, State: renewing})

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	ts, claims, err := s.renewTokens(ctx, auth)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		s.commit(gen, ErrorState{Reason: reason("renewal failed, re-authentication required", err), Err: err})
		return err
	}
	if !s.commit(gen, Authenticated{Tokens: ts, Claims: claims}) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return nil
}

func (s *Session) renewTokens(ctx context.Context, prev Authenticated) (*oidc.TokenSet, *oidc.IdentityClaims, error) {
	const op = "Session.renewTokens"
	if rt := prev.Tokens.RefreshToken(); rt != "" {
		ts, err := s.exchanger.Refresh(ctx, s.id, s.md, rt)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		ts = ts.WithPrevious(prev.Tokens)
		claims := prev.Claims
		if ts.IdToken() != prev.Tokens.IdToken() {
			if claims, err = s.identityClaims(ctx, ts, "", prev.Claims); err != nil {
				return nil, nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		return ts, claims, nil
	}

	if s.opts.withSilentAuthorizer == nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}
	req, err := oidc.NewAuthRequest(s.opts.withAuthRequestTTL, oidc.WithNow(s.opts.withNow))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := s.authURL(req, map[string]string{"prompt": "none"})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	state, code, err := s.opts.withSilentAuthorizer.Authorize(ctx, authURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: silent authorization: %w", op, err)
	}
	if state != req.ID() {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	ts, err := s.exchanger.ExchangeAuthorizationCode(ctx, s.id, s.md, code, oidc.WithCodeVerifier(req.CodeVerifier()))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ts = ts.WithPrevious(prev.Tokens)
	claims, err := s.identityClaims(ctx, ts, req.Nonce(), prev.Claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, claims, nil
}

// Logout ends the session and returns the provider's end session URL (empty
// when the provider has none); sending the user agent there is the caller's
// job.  Logout when Unauthenticated does nothing.
func (s *Session) Logout(ctx context.Context) (string, error) {
	const op = "Session.Logout"
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, ErrClosed)
	}
	var (
		idTokenHint oidc.IdToken
		hadSession  bool
	)
	switch st := s.state.(type) {
	case Unauthenticated:
		s.mu.Unlock()
		return "", nil
	case Authenticated:
		idTokenHint, hadSession = st.Tokens.IdToken(), true
	case Renewing:
		idTokenHint, hadSession = st.Previous.IdToken(), true
	}
	s.generation++
	s.stopTimersLocked()
	s.request = nil
	next := Unauthenticated{}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("logged out")
	s.subs.enqueue(Event{Type: StateChanged, State: next})

	if !hadSession {
		return "", nil
	}
	endSessionURL, err := oidc.EndSessionURL(s.md, idTokenHint, s.opts.withPostLogoutRedirectURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return endSessionURL, nil
}

// UserInfo gets the userinfo claims for the current access token.
func (s *Session) UserInfo(ctx context.Context) (map[string]interface{}, error) {
	const op = "Session.UserInfo"
	if s.opts.withUserInfo == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserInfoDisabled)
	}
	ts, ok := s.Tokens()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	claims, err := s.opts.withUserInfo.UserInfo(ctx, ts.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// Close cancels any operation in progress, stops the expiry timers and drops
// every subscriber.  Results that arrive later are discarded and every later
// operation fails with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.stopTimersLocked()
	s.mu.Unlock()

	s.cancel()
	s.subs.clear()
	s.logger.Debug("closed")
}

// commit applies next if the session is still at generation gen.  It reports
// whether next was applied.
func (s *Session) commit(gen uint64, next State) bool {
	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale result", "status", next.Status())
		return false
	}
	s.state = next
	s.request = nil
	if auth, ok := next.(Authenticated); ok && s.opts.withAutomaticRenew {
		s.scheduleTimersLocked(gen, auth.Tokens)
	}
	s.mu.Unlock()

	switch st := next.(type) {
	case ErrorState:
		s.logger.Error("session error", "reason", st.Reason)
	case Authenticated:
		s.logger.Debug("authenticated", "expires_at", st.Tokens.ExpiresAt())
	}
	s.subs.enqueue(Event{Type: StateChanged, State: next})
	return true
}

// identityClaims verifies (when configured) and decodes the id_token.  A
// token set without an id_token keeps prev.  A decode failure leaves the
// claims nil; the session stays authenticated on the access token.
func (s *Session) identityClaims(ctx context.Context, ts *oidc.TokenSet, nonce string, prev *oidc.IdentityClaims) (*oidc.IdentityClaims, error) {
	const op = "Session.identityClaims"
	idToken := ts.IdToken()
	if idToken == "" {
		return prev, nil
	}
	if s.opts.withIdTokenVerifier != nil {
		if err := s.opts.withIdTokenVerifier.VerifyIdToken(ctx, idToken, nonce); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	claims, err := oidc.DecodeIdentityClaims(idToken)
	if err != nil {
		s.logger.Warn("unable to decode id_token claims", "error", err)
		return nil, nil
	}
	return claims, nil
}

func (s *Session) authURL(req *oidc.AuthRequest, extra map[string]string) (string, error) {
	return oidc.AuthURL(s.md, s.id, req,
		oidc.WithScopes(s.opts.withScopes...),
		oidc.WithAuthParams(s.opts.withAuthParams),
		oidc.WithAuthParams(extra),
	)
}

// opContext returns a context which is also cancelled by Close.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// scheduleTimersLocked starts the expiring notification and expiry renewal
// timers for the token set committed at generation gen.
func (s *Session) scheduleTimersLocked(gen uint64, ts *oidc.TokenSet) {
	expiresAt := ts.ExpiresAt()
	if expiresAt.IsZero() {
		return
	}
	untilExpiry := expiresAt.Sub(s.opts.withNow())
	if notice := untilExpiry - s.opts.withExpiringNotificationTime; notice > 0 && s.opts.withExpiringNotificationTime > 0 {
		s.timers = append(s.timers, time.AfterFunc(notice, func() { s.accessTokenExpiring(gen) }))
	}
	if untilExpiry < 0 {
		untilExpiry = 0
	}
	s.timers = append(s.timers, time.AfterFunc(untilExpiry, func() {
		if err := s.renew(s.ctx, gen); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Debug("automatic renewal failed", "error", err)
		}
	}))
}

func (s *Session) stopTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Session) accessTokenExpiring(gen uint64) {
	defer s.subs.dispatch()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.RLock()
	st, ok := s.state.(Authenticated)
	current := !s.closed && s.generation == gen
	s.mu.RUnlock()
	if !ok || !current {
		return
	}
	s.logger.Debug("access token expiring", "expires_at", st.Tokens.ExpiresAt())
	s.subs.enqueue(Event{Type: AccessTokenExpiring, State: st})
}

// reason is the human readable ErrorState reason, which names the error's
// class so network problems can be told apart from protocol problems.
func reason(prefix string, err error) string {
	class := oidc.Classify(err)
	if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrProviderError) || errors.Is(err, ErrNoRefreshToken) {
		class = oidc.ProtocolClass
	}
	return fmt.Sprintf("%s: %s error: %s", prefix, class, err)
}
