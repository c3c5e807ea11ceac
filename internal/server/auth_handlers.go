package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/roosthq/roost/internal/db"
	"github.com/roosthq/roost/pkg/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := s.userStore.CreateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user.ToResponse())
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.userStore.VerifyUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrBadLogin) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		log.Error().Err(err).Msg("Failed to verify login")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := s.userStore.IssueToken(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user.ToResponse()})
}
