package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/volunteerhub/session"
)

var (
	eventsRoute     = Route{Name: "events"}
	dashboardRoute  = Route{Name: "dashboard"}
	loginRoute      = Route{Name: "login", GuestOnly: true}
	volunteerRoute  = Route{Name: "volunteer-profile", Roles: []session.Role{session.RoleVolunteer}, Profile: ProfileComplete}
	onboardingRoute = Route{
		Name:         "questionnaire",
		Roles:        []session.Role{session.RoleVolunteer},
		Profile:      ProfileIncomplete,
		RoleFallback: "/dashboard",
	}
	adminRoute = Route{Name: "reports", Roles: []session.Role{session.RoleAdmin}}
)

func mustToken(t *testing.T, value string, issued, expires time.Time) *session.Token {
	t.Helper()
	tok, err := session.NewToken(value, issued, expires)
	require.NoError(t, err)
	return tok
}

func freshSession(t *testing.T, now time.Time, user session.UserIdentity) session.Session {
	t.Helper()
	return session.Session{
		AccessToken:  mustToken(t, "access-fresh", now.Add(-time.Minute), now.Add(time.Hour)),
		RefreshToken: "refresh-1",
		CurrentUser:  &user,
	}
}

func expiredSession(t *testing.T, now time.Time, user session.UserIdentity) session.Session {
	t.Helper()
	return session.Session{
		AccessToken:  mustToken(t, "access-old", now.Add(-2*time.Hour), now.Add(-time.Hour)),
		RefreshToken: "refresh-1",
		CurrentUser:  &user,
	}
}

func volunteer() session.UserIdentity {
	return session.UserIdentity{ID: "u-1", Email: "vol@example.org", Role: session.RoleVolunteer, EmailVerified: true}
}

func admin() session.UserIdentity {
	return session.UserIdentity{ID: "u-0", Email: "admin@example.org", Role: session.RoleAdmin, EmailVerified: true}
}

func loggedInStore(t *testing.T, sess session.Session) *session.Store {
	t.Helper()
	st := session.NewStore(session.NewMemoryStorage(), nil)
	require.NoError(t, st.Login(context.Background(), sess))
	return st
}

// fakeRefresher counts calls and delegates to RefreshFunc. When Block is
// set, calls signal Started and wait for Release.
type fakeRefresher struct {
	RefreshFunc func(ctx context.Context, refreshToken string) (session.Session, error)
	Block       bool
	Started     chan struct{}
	Release     chan struct{}

	calls     atomic.Int32
	startOnce sync.Once
}

func newBlockingRefresher(fn func(ctx context.Context, refreshToken string) (session.Session, error)) *fakeRefresher {
	return &fakeRefresher{
		RefreshFunc: fn,
		Block:       true,
		Started:     make(chan struct{}),
		Release:     make(chan struct{}),
	}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	f.calls.Add(1)
	if f.Block {
		f.startOnce.Do(func() { close(f.Started) })
		<-f.Release
	}
	return f.RefreshFunc(ctx, refreshToken)
}

func (f *fakeRefresher) Calls() int {
	return int(f.calls.Load())
}

// renewed returns a refresh result with a token valid for an hour.
func renewed(t *testing.T, user *session.UserIdentity) func(context.Context, string) (session.Session, error) {
	return func(context.Context, string) (session.Session, error) {
		now := time.Now()
		return session.Session{
			AccessToken:  mustToken(t, "access-new", now, now.Add(time.Hour)),
			RefreshToken: "refresh-2",
			CurrentUser:  user,
		}, nil
	}
}

// counterValue extracts a label-matched counter value from a collector.
func counterValue(t *testing.T, c prometheus.Collector, labels map[string]string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}
		match := true
		for k, v := range labels {
			found := false
			for _, lp := range d.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return d.GetCounter().GetValue()
		}
	}
	return 0
}
