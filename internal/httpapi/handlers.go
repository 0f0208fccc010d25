package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skirmish-backend/internal/hub"
	"github.com/DoyleJ11/skirmish-backend/internal/session"
)

const maxCodeAttempts = 8

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom allocates a room under a fresh code.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var created *session.Session
		for attempt := 0; attempt < maxCodeAttempts && created == nil; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				log.Error("generate room code", zap.Error(err))
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}

			existing, err := h.Get(r.Context(), code)
			if err != nil {
				log.Warn("room lookup failed", zap.Error(err))
				http.Error(w, "room unavailable", http.StatusServiceUnavailable)
				return
			}
			if existing != nil {
				log.Debug("collision on room code, regenerating", zap.String("room_id", code))
				continue
			}

			created, err = h.Create(r.Context(), code)
			if err != nil {
				log.Warn("room create failed", zap.Error(err))
				http.Error(w, "room unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if created == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			RoomID string `json:"roomId"`
		}{RoomID: created.ID()})
	}
}

// Healthz reports whether the hub still answers, with its live room count.
func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.Count(r.Context())
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			Rooms  int    `json:"rooms"`
		}{Status: "ok", Rooms: n})
	}
}
