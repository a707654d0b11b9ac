package devapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const grantTypeRefreshToken = "refresh_token"

// TokenRequest is the body of an OAuth2 token request. Only the
// refresh_token grant is supported.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"` // "Bearer"
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// oauthError is the RFC 6749 error body.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// TokenHandler serves the standard OAuth2 refresh_token grant on top of the
// same rotating refresh tokens as /auth/refresh.
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request", Description: err.Error()})
		return
	}
	if req.GrantType != grantTypeRefreshToken {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type"})
		return
	}
	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request", Description: "refresh_token is required"})
		return
	}
	access, next, expiresIn, err := s.rotate(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenInvalid) || errors.Is(err, ErrRefreshTokenReused) {
			writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", Description: err.Error()})
			return
		}
		s.writeRotateError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: next,
	})
}

// parseTokenRequest supports both form and JSON bodies.
func parseTokenRequest(r *http.Request) (TokenRequest, error) {
	var req TokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req = TokenRequest{
			GrantType:    r.Form.Get("grant_type"),
			RefreshToken: r.Form.Get("refresh_token"),
			ClientID:     r.Form.Get("client_id"),
		}
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}
