package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/internal/auth"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// RefreshCookieName is the HttpOnly cookie carrying the refresh token.
const RefreshCookieName = "refreshToken"

const (
	refreshCookiePath = "/api/auth"
	maxBodyBytes      = 64 * 1024
)

type RegisterResponse struct {
	User              *types.User `json:"user"`
	VerificationToken string      `json:"verificationToken"`
}

type UserResponse struct {
	User *types.User `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

var errEmptyBody = errors.New("request body required")

// decodeBody reads a JSON body into dst. An empty body is reported as
// errEmptyBody so optional-body routes can tell it apart from bad JSON.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeBody(r, &in); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	user, token, err := s.accounts.Register(ctx, in)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, RegisterResponse{User: user, VerificationToken: token})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeBody(r, &req); err != nil || req.Token == "" {
		s.sendError(w, "verification token required", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	user, err := s.accounts.VerifyEmail(ctx, req.Token)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	pair, err := s.accounts.Login(ctx, req.Email, req.Password, clientIP(r))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	s.sendJSON(w, http.StatusOK, pair)
}

// refreshToken reads the token from the body, falling back to the cookie.
func refreshToken(r *http.Request) (string, error) {
	var req RefreshRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		return "", err
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		return cookie.Value, nil
	}
	return "", nil
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshToken(r)
	if err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if raw == "" {
		s.sendError(w, "refresh token required", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	pair, err := s.accounts.Refresh(ctx, raw, clientIP(r))
	if err != nil {
		s.clearRefreshCookie(w)
		s.sendFailure(w, r, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	s.sendJSON(w, http.StatusOK, pair)
}

// logout always succeeds, whatever state the presented token is in.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	raw, _ := refreshToken(r)
	if raw != "" {
		ctx, cancel := s.requestContext(r)
		s.accounts.Logout(ctx, raw, clientIP(r))
		cancel()
	}
	s.clearRefreshCookie(w)
	s.sendJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, ok := authenticatedUser(r.Context())
	if !ok {
		s.sendError(w, interfaces.ErrAuthentication.Error(), http.StatusUnauthorized)
		return
	}
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, raw string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    raw,
		Path:     refreshCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
