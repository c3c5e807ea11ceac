package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/roosthq/roost/internal/db"
	"github.com/roosthq/roost/internal/gateway"
	"github.com/roosthq/roost/internal/supervisor"
	"github.com/roosthq/roost/pkg/models"
)

type createBotRequest struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
	Category   string `json:"category"`
}

type createBotResponse struct {
	Bot     models.BotResponse `json:"bot"`
	Session string             `json:"session"`
}

// handleCreateBot validates and persists a bot record, then kicks off a live
// gateway session for it. Session initiation failures do not fail the
// request; the bot stays offline and can be inspected via GET.
func (s *Service) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := gateway.ValidateCredential(req.Credential); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !models.ValidCategory(models.BotCategory(req.Category)) {
		writeError(w, http.StatusBadRequest, "unknown category: "+req.Category)
		return
	}

	bot, err := s.botStore.CreateBot(r.Context(), req.Name, req.Credential, models.BotCategory(req.Category), ownerID(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create bot")
		writeError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}

	session := "started"
	if err := s.supervisor.StartSession(r.Context(), bot); err != nil {
		log.Warn().Err(err).Str("bot_id", bot.ID).Msg("Session initiation failed")
		session = "failed"
	}

	writeJSON(w, http.StatusCreated, createBotResponse{Bot: bot.ToResponse(), Session: session})
}

func (s *Service) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.botStore.ListBotsByOwner(r.Context(), ownerID(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list bots")
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}

	resp := make([]models.BotResponse, 0, len(bots))
	for _, b := range bots {
		resp = append(resp, b.ToResponse())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedBot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bot.ToResponse())
}

func (s *Service) handleStopBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedBot(w, r)
	if !ok {
		return
	}

	if err := s.supervisor.Stop(bot.ID); err != nil {
		if errors.Is(err, supervisor.ErrNoSession) {
			writeError(w, http.StatusConflict, "bot has no live session")
			return
		}
		log.Error().Err(err).Str("bot_id", bot.ID).Msg("Failed to stop session")
		writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// ownedBot loads the bot from the URL and enforces ownership. Bots of other
// users report as not found rather than forbidden.
func (s *Service) ownedBot(w http.ResponseWriter, r *http.Request) (*models.BotRecord, bool) {
	bot, err := s.botStore.GetBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to load bot")
		writeError(w, http.StatusInternalServerError, "failed to load bot")
		return nil, false
	}
	if bot.OwnerID != ownerID(r.Context()) {
		writeError(w, http.StatusNotFound, "bot not found")
		return nil, false
	}
	return bot, true
}
