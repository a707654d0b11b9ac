package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrStaleRevision is returned when a write was computed against a
	// snapshot that has since been replaced by a login, refresh or clear.
	ErrStaleRevision = errors.New("session changed since snapshot")
	// ErrRoleChanged is returned when a refresh or profile sync reports a
	// different role for the same session. The session is cleared.
	ErrRoleChanged = errors.New("user role changed, re-authentication required")
	// ErrSubjectChanged is returned when a refresh or profile sync reports a
	// different user. The session is cleared.
	ErrSubjectChanged = errors.New("session subject changed, re-authentication required")
)

// Revision identifies one state of a Store. Every write bumps it.
type Revision uint64

// Store owns the current Session. Everything else reads snapshots; writes go
// through Login/Restore, ApplyRefresh, SyncIdentity and Clear.
//
// Writers are serialized by writeMu and talk to storage without holding mu,
// so readers never wait on storage I/O.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	current Session
	rev     Revision
	storage Storage
	logger  *slog.Logger
}

// NewStore creates an empty store persisting to storage.
func NewStore(storage Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Store{storage: storage, logger: logger}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	sess, _ := s.View()
	return sess
}

// View returns a copy of the current session and its revision.
func (s *Store) View() (Session, Revision) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), s.rev
}

// swap installs next as the current session. Callers hold writeMu.
func (s *Store) swap(next Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next.Clone()
	s.rev++
}

// Restore loads the session from durable storage. Missing keys yield an
// empty session; an undecodable token or user wipes the stored keys.
func (s *Store) Restore(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	values, err := s.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	sess, decodeErr := decodeSession(values)
	if decodeErr != nil {
		s.logger.WarnContext(ctx, "discarding unreadable stored session", slog.String("error", decodeErr.Error()))
		s.swap(Empty())
		if err := s.storage.Clear(ctx); err != nil {
			return fmt.Errorf("clear unreadable session: %w", err)
		}
		return nil
	}
	s.swap(sess)
	return nil
}

// Login replaces the session after a successful authentication. Nothing
// changes if the session cannot be persisted.
func (s *Store) Login(ctx context.Context, next Session) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("login session: %w", err)
	}
	if next.CurrentUser == nil {
		return errors.New("login session: missing user")
	}
	values, err := encodeSession(next)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.storage.Save(ctx, values); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.swap(next)
	s.logger.DebugContext(ctx, "session stored", slog.String("user_id", next.CurrentUser.ID))
	return nil
}

// ApplyRefresh overwrites the session with the result of a refresh that
// started from revision rev. A refresh without a user keeps the current one.
// The in-memory session is updated even when persisting fails, because the
// previous refresh token may already be rotated out server-side.
func (s *Store) ApplyRefresh(ctx context.Context, rev Revision, next Session) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("refreshed session: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cur, curRev := s.View()
	if rev != curRev {
		return ErrStaleRevision
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.CurrentUser == nil {
		next.CurrentUser = cur.CurrentUser
	}
	if err := checkSameUser(cur.CurrentUser, next.CurrentUser); err != nil {
		_ = s.clear(ctx)
		return err
	}
	if next.CurrentUser == nil {
		return errors.New("refreshed session: missing user")
	}
	s.swap(next)
	s.persist(ctx, next, "refresh")
	return nil
}

// SyncIdentity replaces the current user with fresher profile data, e.g.
// after onboarding completes. The user must be the session's subject.
func (s *Store) SyncIdentity(ctx context.Context, user UserIdentity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cur, _ := s.View()
	if cur.AccessToken == nil || cur.CurrentUser == nil {
		return ErrNotFound
	}
	if err := checkSameUser(cur.CurrentUser, &user); err != nil {
		_ = s.clear(ctx)
		return err
	}
	cur.CurrentUser = &user
	s.swap(cur)
	s.persist(ctx, cur, "sync")
	return nil
}

// Clear drops the session from memory and storage. Memory is cleared even
// if storage fails.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clear(ctx)
}

// ClearAt clears the session only if it is still at revision rev, so a
// decision computed on an old snapshot cannot wipe a newer login.
func (s *Store) ClearAt(ctx context.Context, rev Revision) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, cur := s.View(); cur != rev {
		return false, nil
	}
	return true, s.clear(ctx)
}

// clear empties memory, then storage. Callers hold writeMu.
func (s *Store) clear(ctx context.Context) error {
	s.swap(Empty())
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear stored session", slog.String("error", err.Error()))
		return fmt.Errorf("clear session storage: %w", err)
	}
	return nil
}

func checkSameUser(cur, next *UserIdentity) error {
	if cur == nil || next == nil {
		return nil
	}
	if cur.ID != next.ID {
		return ErrSubjectChanged
	}
	if cur.Role != next.Role {
		return ErrRoleChanged
	}
	return nil
}

func (s *Store) persist(ctx context.Context, sess Session, op string) {
	values, err := encodeSession(sess)
	if err == nil {
		err = s.storage.Save(ctx, values)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to persist session",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

func encodeSession(sess Session) (map[string]string, error) {
	values := map[string]string{}
	if sess.AccessToken != nil {
		tok, err := encodeToken(sess.AccessToken)
		if err != nil {
			return nil, err
		}
		values[KeyToken] = tok
	}
	if sess.RefreshToken != "" {
		values[KeyRefreshToken] = sess.RefreshToken
	}
	if sess.CurrentUser != nil {
		b, err := json.Marshal(sess.CurrentUser)
		if err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
		values[KeyUser] = string(b)
		values[KeyUserStatus] = string(sess.CurrentUser.Status())
	}
	return values, nil
}

// encodeToken stores JWTs raw so other clients can read them; opaque tokens
// are stored as JSON so their validity window survives a restore.
func encodeToken(t *Token) (string, error) {
	if parsed, _, err := ParseAccessToken(t.Value); err == nil && parsed.ExpiresAt.Unix() == t.ExpiresAt.Unix() {
		return t.Value, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return string(b), nil
}

func decodeToken(raw string) (*Token, error) {
	if strings.HasPrefix(raw, "{") {
		var t Token
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return NewToken(t.Value, t.IssuedAt, t.ExpiresAt)
	}
	t, _, err := ParseAccessToken(raw)
	return t, err
}

func decodeSession(values map[string]string) (Session, error) {
	var sess Session
	if raw := values[KeyToken]; raw != "" {
		t, err := decodeToken(raw)
		if err != nil {
			return Empty(), err
		}
		sess.AccessToken = t
	}
	sess.RefreshToken = values[KeyRefreshToken]
	if raw := values[KeyUser]; raw != "" {
		var u UserIdentity
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return Empty(), fmt.Errorf("decode user: %w", err)
		}
		sess.CurrentUser = &u
	}
	if sess.AccessToken == nil && sess.RefreshToken == "" {
		return Empty(), nil
	}
	return sess, nil
}
