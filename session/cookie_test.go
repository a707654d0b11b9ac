package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookieRequest(t *testing.T, codec CookieCodec, sid string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	codec.Write(rec, sid)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range rec.Result().Cookies() {
		req.AddCookie(ck)
	}
	return req
}

func TestCookieCodec_RoundTrip(t *testing.T) {
	codec := CookieCodec{Secret: []byte("cookie-secret"), MaxAge: time.Hour, Secure: true}
	sid := NewSessionID()

	rec := httptest.NewRecorder()
	codec.Write(rec, sid)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	got, err := codec.Read(cookieRequest(t, codec, sid))
	require.NoError(t, err)
	assert.Equal(t, sid, got)
}

func TestCookieCodec_Missing(t *testing.T) {
	codec := CookieCodec{Secret: []byte("s")}
	_, err := codec.Read(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCookieCodec_RejectsTampering(t *testing.T) {
	codec := CookieCodec{Name: "sid", Secret: []byte("cookie-secret")}
	sid := NewSessionID()

	other := CookieCodec{Name: "sid", Secret: []byte("another-secret")}
	_, err := codec.Read(cookieRequest(t, other, sid))
	require.Error(t, err)

	value, sig, _ := strings.Cut(codec.encode(sid), "|")
	tampered := strings.ToUpper(value[:1]) + value[1:] + "|" + sig
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: tampered + "x"})
	_, err = codec.Read(req)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "no-separator"})
	_, err = codec.Read(req)
	require.Error(t, err)
}

func TestCookieCodec_RejectsNonUUID(t *testing.T) {
	codec := CookieCodec{Secret: []byte("cookie-secret")}
	_, err := codec.Read(cookieRequest(t, codec, "../../etc/passwd"))
	require.Error(t, err)
}

func TestCookieCodec_Clear(t *testing.T) {
	codec := CookieCodec{Secret: []byte("s"), Domain: "example.org"}
	rec := httptest.NewRecorder()
	codec.Clear(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}
