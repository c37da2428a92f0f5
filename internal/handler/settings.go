package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"p2precon/internal/model"
	"p2precon/internal/settings"
)

func GetCredentialsHandler(store *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.Credentials().View())
	}
}

func UpdateCredentialsHandler(store *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch model.CredentialsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		creds, err := store.Update(patch)
		if err != nil {
			slog.Error("save credentials failed", "error", err)
			http.Error(w, "failed to save settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, creds.View())
	}
}

func ClearCredentialsHandler(store *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(); err != nil {
			slog.Error("clear credentials failed", "error", err)
			http.Error(w, "failed to clear settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, model.Credentials{}.View())
	}
}
