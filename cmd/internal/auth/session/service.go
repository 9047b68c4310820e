package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authd/cmd/identity"
	"authd/cmd/identity/ids"
	"authd/cmd/security/password"
	"authd/cmd/security/token"
)

// Credentials hashes new secrets and verifies presented ones.
// Verify must not distinguish failure causes.
type Credentials interface {
	Hash(secret string) (string, error)
	Verify(secret, hashed string) bool
}

// Deps are the collaborators of a Service. Recorder, Log and Now are optional.
type Deps struct {
	Users       identity.Store
	Sessions    SessionStore
	Tokens      RefreshTokenStore
	Access      AccessTokenManager
	Credentials Credentials
	Hasher      token.Hasher

	Log      *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

// Service orchestrates signup, signin, refresh rotation, logout and the
// session queries on top of the user directory and the two stores.
//
// Every method returns either a value or an Error whose Kind is one of
// ErrAlreadyExists, ErrNotFound, ErrForbidden, ErrUnauthorized,
// ErrInvalidInput or ErrInternal. Internal causes are logged, not returned.
type Service struct {
	cfg      Config
	users    identity.Store
	sessions SessionStore
	tokens   RefreshTokenStore
	access   AccessTokenManager
	creds    Credentials
	hasher   token.Hasher

	log    *slog.Logger
	rec    Recorder
	now    func() time.Time
	tracer trace.Tracer

	// dummyHash is verified against when the email is unknown so signin
	// latency does not reveal account existence.
	dummyHash string
}

// Issued is the result of signup, signin and refresh.
type Issued struct {
	UserID       string
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// SignUpInput describes a new account and the device it signs up from.
type SignUpInput struct {
	Email    string
	Password string
	Username string
	Phone    string
	Role     identity.Role
	Device   DeviceMeta
}

// SignInInput carries credentials and the device signing in.
type SignInInput struct {
	Email    string
	Password string
	Device   DeviceMeta
}

// TokenInfo is the listing view of a live refresh token. It never carries the value or hash.
type TokenInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewService validates cfg and d and returns a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case d.Users == nil:
		return nil, fmt.Errorf("%w: nil user store", ErrConfig)
	case d.Sessions == nil:
		return nil, fmt.Errorf("%w: nil session store", ErrConfig)
	case d.Tokens == nil:
		return nil, fmt.Errorf("%w: nil refresh token store", ErrConfig)
	case d.Access == nil:
		return nil, fmt.Errorf("%w: nil access token manager", ErrConfig)
	case d.Credentials == nil:
		return nil, fmt.Errorf("%w: nil credentials", ErrConfig)
	}

	s := &Service{
		cfg:      cfg,
		users:    d.Users,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		access:   d.Access,
		creds:    d.Credentials,
		hasher:   d.Hasher,
		log:      d.Log,
		rec:      d.Recorder,
		now:      d.Now,
		tracer:   otel.Tracer("authd/session"),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	dummy, err := s.creds.Hash("timing-equalizer-secret")
	if err != nil {
		return nil, fmt.Errorf("%w: dummy hash: %v", ErrConfig, err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// SignUp creates an account, opens its first session and issues a token pair.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (_ Issued, err error) {
	const op = "auth.signup"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Issued{}, fail(op, ErrInvalidInput, "a valid email is required")
	}
	role, ok := identity.ParseRole(string(in.Role))
	if !ok {
		return Issued{}, fail(op, ErrInvalidInput, "unknown role")
	}

	_, err = s.users.GetActiveByEmail(ctx, email)
	switch {
	case err == nil:
		return Issued{}, fail(op, ErrAlreadyExists, "email already registered")
	case !identity.IsNotFound(err):
		return Issued{}, s.internal(ctx, op, err)
	}

	hash, err := s.creds.Hash(in.Password)
	if err != nil {
		if isPolicyError(err) {
			return Issued{}, fail(op, ErrInvalidInput, err.Error())
		}
		return Issued{}, s.internal(ctx, op, err)
	}

	now := s.clock()
	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		Username:     in.Username,
		Phone:        in.Phone,
		Role:         role,
		PasswordHash: hash,
		Now:          now,
	})
	switch {
	case identity.IsConflict(err):
		return Issued{}, fail(op, ErrAlreadyExists, "email already registered")
	case identity.IsInvalidInput(err):
		return Issued{}, fail(op, ErrInvalidInput, "invalid signup input")
	case err != nil:
		return Issued{}, s.internal(ctx, op, err)
	}

	issued, err := s.startSession(ctx, op, u, in.Device, now)
	if err != nil {
		s.discardUser(ctx, u.ID, now)
		return Issued{}, err
	}

	s.log.InfoContext(ctx, "auth.signup.ok", "user_id", u.ID, "session_id", issued.SessionID)
	return issued, nil
}

// SignIn verifies credentials and opens a new session for the device.
//
// An unknown email yields ErrNotFound and a wrong password ErrForbidden; both
// carry the same message. Edges that must not reveal account existence should
// map the two identically.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (_ Issued, err error) {
	const op = "auth.signin"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return Issued{}, fail(op, ErrInvalidInput, "email and password are required")
	}

	u, err := s.users.GetActiveByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			_ = s.creds.Verify(in.Password, s.dummyHash)
			return Issued{}, fail(op, ErrNotFound, "invalid credentials")
		}
		return Issued{}, s.internal(ctx, op, err)
	}

	if !s.creds.Verify(in.Password, u.PasswordHash) {
		s.log.InfoContext(ctx, "auth.signin.rejected", "user_id", u.ID)
		return Issued{}, fail(op, ErrForbidden, "invalid credentials")
	}

	now := s.clock()
	issued, err := s.startSession(ctx, op, u, in.Device, now)
	if err != nil {
		return Issued{}, err
	}
	s.touchUser(ctx, u.ID, now)

	s.log.InfoContext(ctx, "auth.signin.ok", "user_id", u.ID, "session_id", issued.SessionID)
	return issued, nil
}

// Refresh consumes a refresh token and issues a new pair bound to the same session.
//
// The presented token is revoked before anything else is checked; a failure
// after that point leaves the caller needing to sign in again. Not found,
// already used, expired, deleted user and terminated session all yield
// ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev DeviceMeta) (_ Issued, err error) {
	const op = "auth.refresh"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	value, ok := sanitizeRefreshValue(refreshToken)
	if !ok {
		return Issued{}, fail(op, ErrUnauthorized, "invalid refresh token")
	}

	now := s.clock()
	res, err := s.tokens.ConsumeRefreshToken(ctx, s.hasher.Hash(value), now)
	if err != nil {
		return Issued{}, s.internal(ctx, op, err)
	}
	if res.Status != ConsumeOK {
		s.log.InfoContext(ctx, "auth.refresh.rejected", "reason", res.Status.String(), "user_id", res.Token.UserID)
		return Issued{}, fail(op, ErrUnauthorized, "invalid refresh token")
	}
	old := res.Token
	span.SetAttributes(attribute.String("auth.user_id", old.UserID))

	u, err := s.users.GetByID(ctx, old.UserID)
	switch {
	case identity.IsNotFound(err):
		return Issued{}, s.reject(ctx, op, "user_missing", old)
	case err != nil:
		return Issued{}, s.internal(ctx, op, err)
	case !u.Lifecycle.IsActive():
		return Issued{}, s.reject(ctx, op, "user_deleted", old)
	}

	if old.SessionID == "" {
		return Issued{}, s.reject(ctx, op, "session_missing", old)
	}
	sess, err := s.sessions.GetSession(ctx, old.SessionID)
	switch {
	case IsNotFound(err):
		return Issued{}, s.reject(ctx, op, "session_missing", old)
	case err != nil:
		return Issued{}, s.internal(ctx, op, err)
	case !sess.IsActive() || sess.UserID != u.ID:
		return Issued{}, s.reject(ctx, op, "session_terminated", old)
	}

	dev = dev.normalized().orElse(DeviceMeta{DeviceID: old.DeviceID, IP: old.IP, UserAgent: old.UserAgent})

	rt, err := s.issueRefresh(ctx, u.ID, sess.ID, dev, now)
	if err != nil {
		return Issued{}, s.internal(ctx, op, err)
	}
	access, accessExp, err := s.access.Issue(AccessSubject{UserID: u.ID, Email: u.Email, SessionID: sess.ID}, now)
	if err != nil {
		return Issued{}, s.internal(ctx, op, err)
	}

	if err := s.sessions.TouchSession(ctx, sess.ID, now); err != nil {
		s.log.WarnContext(ctx, "auth.refresh.touch_failed", "session_id", sess.ID, "err", err)
	}
	s.touchUser(ctx, u.ID, now)

	return Issued{
		UserID:       u.ID,
		SessionID:    sess.ID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: rt.Value,
		RefreshExp:   rt.ExpiresAt,
	}, nil
}

// Logout revokes the refresh token and terminates its session. It always
// succeeds from the caller's point of view: unknown, malformed and
// already-revoked tokens are ignored and store failures are only logged.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	const op = "auth.logout"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, nil) }()

	value, ok := sanitizeRefreshValue(refreshToken)
	if !ok {
		return
	}

	t, err := s.tokens.FindRefreshToken(ctx, s.hasher.Hash(value))
	if err != nil {
		if !IsNotFound(err) {
			s.log.ErrorContext(ctx, op+".fail", "err", err)
		}
		return
	}

	now := s.clock()
	if err := s.tokens.RevokeRefreshToken(ctx, t.ID, now); err != nil {
		s.log.ErrorContext(ctx, op+".fail", "err", err, "token_id", t.ID)
	}
	if t.SessionID != "" {
		if err := s.terminate(ctx, t.SessionID, now); err != nil && !IsNotFound(err) {
			s.log.ErrorContext(ctx, op+".fail", "err", err, "session_id", t.SessionID)
		}
	}

	s.log.InfoContext(ctx, "auth.logout.ok", "user_id", t.UserID, "session_id", t.SessionID)
}

// LogoutAllDevices revokes every refresh token of userID and terminates all of its sessions.
func (s *Service) LogoutAllDevices(ctx context.Context, userID string) (err error) {
	const op = "auth.logout_all"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	if strings.TrimSpace(userID) == "" {
		return fail(op, ErrInvalidInput, "user id is required")
	}

	now := s.clock()
	revoked, err := s.tokens.RevokeUserTokens(ctx, userID, now)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	terminated, err := s.sessions.TerminateUserSessions(ctx, userID, now)
	if err != nil {
		return s.internal(ctx, op, err)
	}

	s.log.InfoContext(ctx, "auth.logout_all.ok", "user_id", userID, "revoked", revoked, "terminated", terminated)
	return nil
}

// GetSessions lists the user's active sessions, most recently seen first.
func (s *Service) GetSessions(ctx context.Context, userID string) (_ []Session, err error) {
	const op = "auth.sessions.list"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, fail(op, ErrInvalidInput, "user id is required")
	}
	out, err := s.sessions.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}
	return out, nil
}

// GetActiveRefreshTokens lists the user's unrevoked, unexpired refresh tokens, newest first.
func (s *Service) GetActiveRefreshTokens(ctx context.Context, userID string) (_ []TokenInfo, err error) {
	const op = "auth.tokens.list"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, fail(op, ErrInvalidInput, "user id is required")
	}
	list, err := s.tokens.ListLiveTokens(ctx, userID, s.clock())
	if err != nil {
		return nil, s.internal(ctx, op, err)
	}

	out := make([]TokenInfo, 0, len(list))
	for _, t := range list {
		out = append(out, TokenInfo{
			ID:        t.ID,
			SessionID: t.SessionID,
			DeviceID:  t.DeviceID,
			UserAgent: t.UserAgent,
			IP:        t.IP,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}
	return out, nil
}

// TerminateSession terminates a session by id. Unknown ids yield ErrNotFound;
// terminating an already terminated session succeeds.
func (s *Service) TerminateSession(ctx context.Context, sessionID string) (err error) {
	const op = "auth.sessions.terminate"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	if err := s.terminate(ctx, sessionID, s.clock()); err != nil {
		if IsNotFound(err) {
			return fail(op, ErrNotFound, "session not found")
		}
		return s.internal(ctx, op, err)
	}
	return nil
}

// TerminateUserSession terminates sessionID only if it belongs to userID.
// Sessions of other users are reported as ErrNotFound.
func (s *Service) TerminateUserSession(ctx context.Context, userID, sessionID string) (err error) {
	const op = "auth.sessions.terminate_own"
	ctx, span := s.begin(ctx, op)
	defer func() { s.end(span, op, err) }()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	switch {
	case IsNotFound(err):
		return fail(op, ErrNotFound, "session not found")
	case err != nil:
		return s.internal(ctx, op, err)
	case sess.UserID != userID:
		return fail(op, ErrNotFound, "session not found")
	}

	if err := s.terminate(ctx, sessionID, s.clock()); err != nil {
		if IsNotFound(err) {
			return fail(op, ErrNotFound, "session not found")
		}
		return s.internal(ctx, op, err)
	}
	return nil
}

// TouchSession records activity on an active session. Unknown and terminated sessions are ignored.
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	const op = "auth.sessions.touch"
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := s.sessions.TouchSession(ctx, sessionID, s.clock()); err != nil {
		return s.internal(ctx, op, err)
	}
	return nil
}

// Authenticate verifies an access token. It consults no store: a token stays
// valid until it expires even if its session was terminated.
func (s *Service) Authenticate(_ context.Context, accessToken string) (AccessClaims, error) {
	claims, err := s.access.Verify(accessToken, s.clock())
	if err != nil {
		return AccessClaims{}, fail("auth.authenticate", ErrUnauthorized, "invalid access token")
	}
	return claims, nil
}

// startSession creates a session for u and issues its first token pair.
func (s *Service) startSession(ctx context.Context, op string, u identity.User, dev DeviceMeta, now time.Time) (Issued, error) {
	dev = dev.normalized()

	sid, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, s.internal(ctx, op, err)
	}
	err = s.sessions.CreateSession(ctx, Session{
		ID:        sid,
		UserID:    u.ID,
		Device:    dev.Device,
		DeviceID:  dev.DeviceID,
		Platform:  dev.Platform,
		IP:        dev.IP,
		UserAgent: dev.UserAgent,
		LastSeen:  now,
		CreatedAt: now,
		Lifecycle: identity.Active(),
	})
	if err != nil {
		return Issued{}, s.internal(ctx, op, err)
	}

	rt, err := s.issueRefresh(ctx, u.ID, sid, dev, now)
	if err != nil {
		s.abandon(ctx, sid, now)
		return Issued{}, s.internal(ctx, op, err)
	}
	access, accessExp, err := s.access.Issue(AccessSubject{UserID: u.ID, Email: u.Email, SessionID: sid}, now)
	if err != nil {
		s.abandon(ctx, sid, now)
		return Issued{}, s.internal(ctx, op, err)
	}

	return Issued{
		UserID:       u.ID,
		SessionID:    sid,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: rt.Value,
		RefreshExp:   rt.ExpiresAt,
	}, nil
}

func (s *Service) issueRefresh(ctx context.Context, userID, sessionID string, dev DeviceMeta, now time.Time) (RefreshToken, error) {
	value, err := newRefreshValue(now)
	if err != nil {
		return RefreshToken{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return RefreshToken{}, err
	}

	t := RefreshToken{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Value:     value,
		Hash:      s.hasher.Hash(value),
		UserAgent: dev.UserAgent,
		IP:        dev.IP,
		DeviceID:  dev.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.tokens.InsertRefreshToken(ctx, t); err != nil {
		return RefreshToken{}, err
	}
	return t, nil
}

// terminate ends a session and, with TerminateCascade, revokes its tokens.
func (s *Service) terminate(ctx context.Context, sessionID string, now time.Time) error {
	if err := s.sessions.TerminateSession(ctx, sessionID, now); err != nil {
		return err
	}
	if !s.cfg.TerminateCascade {
		return nil
	}
	_, err := s.tokens.RevokeSessionTokens(ctx, []string{sessionID}, now)
	return err
}

// abandon terminates a session whose token issue failed half way.
func (s *Service) abandon(ctx context.Context, sessionID string, now time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := s.terminate(ctx, sessionID, now); err != nil {
		s.log.WarnContext(ctx, "auth.session.abandon_failed", "session_id", sessionID, "err", err)
	}
}

// discardUser soft-deletes an account whose first session could not be
// opened, releasing the email for another signup.
func (s *Service) discardUser(ctx context.Context, userID string, now time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := s.users.SoftDelete(ctx, userID, now); err != nil {
		s.log.WarnContext(ctx, "auth.user.discard_failed", "user_id", userID, "err", err)
	}
}

func (s *Service) touchUser(ctx context.Context, userID string, now time.Time) {
	if err := s.users.TouchLastSeen(ctx, userID, now); err != nil {
		s.log.WarnContext(ctx, "auth.user.touch_failed", "user_id", userID, "err", err)
	}
}

func (s *Service) reject(ctx context.Context, op, reason string, t RefreshToken) error {
	s.log.InfoContext(ctx, op+".rejected", "reason", reason, "user_id", t.UserID, "session_id", t.SessionID)
	return fail(op, ErrUnauthorized, "invalid refresh token")
}

// internal logs err and returns an opaque ErrInternal.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	trace.SpanFromContext(ctx).RecordError(err)
	s.log.ErrorContext(ctx, op+".fail", "err", err)
	return fail(op, ErrInternal, "internal error")
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) begin(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op)
}

func (s *Service) end(span trace.Span, op string, err error) {
	s.rec.AuthOp(op, outcome(err))
	if err != nil && IsInternal(err) {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isPolicyError(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}
