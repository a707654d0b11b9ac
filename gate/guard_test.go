package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/volunteerhub/session"
)

func TestGuard_FreshSessionDoesNotRefresh(t *testing.T) {
	ref := &fakeRefresher{RefreshFunc: renewed(t, nil)}
	st := loggedInStore(t, freshSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, Allow(), d)
	assert.Zero(t, ref.Calls())
}

func TestGuard_ScenarioC_RefreshThenAllow(t *testing.T) {
	ref := &fakeRefresher{RefreshFunc: renewed(t, nil)}
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, Allow(), d)
	assert.Equal(t, 1, ref.Calls())

	got := st.Snapshot()
	assert.Equal(t, "access-new", got.AccessToken.Value)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.Equal(t, "u-1", got.CurrentUser.ID)
}

func TestGuard_RefreshedSessionStillPassesLockCheck(t *testing.T) {
	locked := volunteer()
	locked.AccountLocked = true
	ref := &fakeRefresher{RefreshFunc: renewed(t, &locked)}
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, RedirectTo("/auth/account-locked", ReasonAccountLocked), d)
}

func TestGuard_ScenarioD_RejectedRefreshClearsSession(t *testing.T) {
	ref := &fakeRefresher{RefreshFunc: func(context.Context, string) (session.Session, error) {
		return session.Session{}, fmt.Errorf("backend said 401: %w", ErrRefreshRejected)
	}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths(), WithMetrics(metrics)).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, RedirectTo("/auth/login", ReasonRefreshRejected), d)
	assert.Equal(t, session.Empty(), st.Snapshot())
	assert.Equal(t, 1, ref.Calls())

	assert.Equal(t, 1.0, counterValue(t, metrics.refreshes, map[string]string{"result": "rejected"}))
	assert.Equal(t, 1.0, counterValue(t, metrics.decisions, map[string]string{"outcome": "redirect", "reason": "refresh_rejected"}))
}

func TestGuard_UnexpectedRefreshErrorPropagates(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	ref := &fakeRefresher{RefreshFunc: func(context.Context, string) (session.Session, error) {
		return session.Session{}, boom
	}}
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	_, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.Error(t, err)
	var collab *CollaboratorError
	require.ErrorAs(t, err, &collab)
	assert.ErrorIs(t, err, boom)
	assert.True(t, st.Snapshot().Authenticated(), "infrastructure failures must not log the user out")
}

func TestGuard_ExpiredWithoutRefreshTokenClears(t *testing.T) {
	ref := &fakeRefresher{RefreshFunc: renewed(t, nil)}
	sess := expiredSession(t, time.Now(), volunteer())
	sess.RefreshToken = ""
	st := loggedInStore(t, sess)

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, RedirectTo("/auth/login", ReasonTokenExpired), d)
	assert.Zero(t, ref.Calls())
	assert.Equal(t, session.Empty(), st.Snapshot())
}

func TestGuard_RefreshReturningExpiredTokenIsRejection(t *testing.T) {
	ref := &fakeRefresher{RefreshFunc: func(context.Context, string) (session.Session, error) {
		now := time.Now()
		return session.Session{AccessToken: mustToken(t, "stale", now.Add(-time.Hour), now.Add(-time.Second))}, nil
	}}
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", d.Path)
	assert.Equal(t, 1, ref.Calls())
	assert.False(t, st.Snapshot().Authenticated())
}

func TestGuard_RoleChangeOnRefreshForcesLogin(t *testing.T) {
	promoted := volunteer()
	promoted.Role = session.RoleAdmin
	ref := &fakeRefresher{RefreshFunc: renewed(t, &promoted)}
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	d, err := NewGuard(ref, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, RedirectTo("/auth/login", ReasonRefreshRejected), d)
	assert.Equal(t, session.Empty(), st.Snapshot())
}

func TestGuard_CoalescesConcurrentRefreshes(t *testing.T) {
	ref := newBlockingRefresher(renewed(t, nil))
	metrics := NewMetrics(prometheus.NewRegistry())
	g := NewGuard(ref, DefaultPaths(), WithMetrics(metrics))
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	const checks = 2
	var wg sync.WaitGroup
	results := make([]Decision, checks)
	errs := make([]error, checks)
	for i := 0; i < checks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Check(context.Background(), st, eventsRoute)
		}(i)
	}

	<-ref.Started
	// Let the second check reach the pending refresh.
	time.Sleep(50 * time.Millisecond)
	close(ref.Release)
	wg.Wait()

	assert.Equal(t, 1, ref.Calls())
	for i := 0; i < checks; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, Allow(), results[i])
	}
	assert.Equal(t, 1.0, counterValue(t, metrics.joined, nil))
	assert.Equal(t, 1.0, counterValue(t, metrics.refreshes, map[string]string{"result": "ok"}))
}

func TestGuard_CancelledCheckLetsRefreshComplete(t *testing.T) {
	ref := newBlockingRefresher(renewed(t, nil))
	g := NewGuard(ref, DefaultPaths())
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Check(ctx, st, eventsRoute)
		done <- err
	}()

	<-ref.Started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(ref.Release)
	require.Eventually(t, func() bool {
		snap := st.Snapshot()
		return snap.AccessToken != nil && snap.AccessToken.Value == "access-new"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ref.Calls())
}

func TestGuard_LogoutDuringRefreshWins(t *testing.T) {
	ref := newBlockingRefresher(renewed(t, nil))
	g := NewGuard(ref, DefaultPaths())
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	type result struct {
		d   Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := g.Check(context.Background(), st, eventsRoute)
		done <- result{d, err}
	}()

	<-ref.Started
	require.NoError(t, st.Clear(context.Background()))
	close(ref.Release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, RedirectTo("/auth/login", ReasonNotAuthenticated), res.d)
	assert.False(t, st.Snapshot().Authenticated())
}

func TestGuard_NoRefresherTreatsExpiryAsRejection(t *testing.T) {
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))
	d, err := NewGuard(nil, DefaultPaths()).Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", d.Path)
	assert.False(t, st.Snapshot().Authenticated())
}

// rotatingRefresher issues refresh-2, refresh-3, ... and rejects any token
// that is not the latest one, like a backend revoking a reused token family.
func rotatingRefresher(t *testing.T) *fakeRefresher {
	var mu sync.Mutex
	latest, n := "refresh-1", 1
	return &fakeRefresher{RefreshFunc: func(_ context.Context, token string) (session.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != latest {
			return session.Session{}, fmt.Errorf("token %s reused: %w", token, ErrRefreshRejected)
		}
		n++
		latest = fmt.Sprintf("refresh-%d", n)
		now := time.Now()
		return session.Session{
			AccessToken:  mustToken(t, "access-"+latest, now, now.Add(time.Hour)),
			RefreshToken: latest,
		}, nil
	}}
}

func TestGuard_LateCheckDoesNotReplayRotatedToken(t *testing.T) {
	ref := rotatingRefresher(t)
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	// The first clock reading parks the check that took it, right after it
	// read the expired session.
	var ticks atomic.Int32
	parked := make(chan struct{})
	resume := make(chan struct{})
	clock := func() time.Time {
		if ticks.Add(1) == 1 {
			close(parked)
			<-resume
		}
		return time.Now()
	}
	g := NewGuard(ref, DefaultPaths(), WithClock(clock))

	type result struct {
		d   Decision
		err error
	}
	late := make(chan result, 1)
	go func() {
		d, err := g.Check(context.Background(), st, eventsRoute)
		late <- result{d, err}
	}()
	<-parked

	d, err := g.Check(context.Background(), st, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, Allow(), d)
	require.Equal(t, "refresh-2", st.Snapshot().RefreshToken)

	close(resume)
	res := <-late
	require.NoError(t, res.err)
	assert.Equal(t, Allow(), res.d)
	assert.Equal(t, 1, ref.Calls())
	assert.Equal(t, "refresh-2", st.Snapshot().RefreshToken)
}

func TestGuard_StaleCheckSkipsRefreshAfterRelogin(t *testing.T) {
	ref := rotatingRefresher(t)
	st := loggedInStore(t, expiredSession(t, time.Now(), volunteer()))

	var ticks atomic.Int32
	parked := make(chan struct{})
	resume := make(chan struct{})
	g := NewGuard(ref, DefaultPaths(), WithClock(func() time.Time {
		if ticks.Add(1) == 1 {
			close(parked)
			<-resume
		}
		return time.Now()
	}))

	done := make(chan error, 1)
	var d Decision
	go func() {
		var err error
		d, err = g.Check(context.Background(), st, eventsRoute)
		done <- err
	}()
	<-parked

	relogin := freshSession(t, time.Now(), volunteer())
	relogin.RefreshToken = "refresh-9"
	require.NoError(t, st.Login(context.Background(), relogin))
	close(resume)

	require.NoError(t, <-done)
	assert.Equal(t, Allow(), d)
	assert.Zero(t, ref.Calls(), "the token read before the new login is never sent")
	assert.Equal(t, "refresh-9", st.Snapshot().RefreshToken)
}

func TestGuard_RestoredStoreAdoptsFinishedRefresh(t *testing.T) {
	ctx := context.Background()
	ref := rotatingRefresher(t)
	g := NewGuard(ref, DefaultPaths())

	mem := session.NewMemoryStorage()
	first := session.NewStore(mem, nil)
	require.NoError(t, first.Login(ctx, expiredSession(t, time.Now(), volunteer())))
	// A second store over the same namespace, e.g. reopened after the
	// registry evicted the first one.
	second := session.NewStore(mem, nil)
	require.NoError(t, second.Restore(ctx))
	require.Equal(t, "refresh-1", second.Snapshot().RefreshToken)

	d, err := g.Check(ctx, first, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, Allow(), d)

	d, err = g.Check(ctx, second, eventsRoute)
	require.NoError(t, err)
	assert.Equal(t, Allow(), d)
	assert.Equal(t, 1, ref.Calls())
	assert.Equal(t, "refresh-2", second.Snapshot().RefreshToken)
	assert.Equal(t, "u-1", second.Snapshot().CurrentUser.ID)
}
