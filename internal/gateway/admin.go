package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mzhadan/chatforge/internal/history"
	"github.com/mzhadan/chatforge/internal/template"
)

const defaultRunLimit = 50

// templateJSON is a serializable template snapshot for the admin API.
type templateJSON struct {
	Name      string `json:"name"`
	ChatTitle string `json:"chat_title"`
	Topics    int    `json:"topics"`
	CreatedAt string `json:"created_at"`
}

// handleListTemplates returns the templates of one owner as JSON.
func (g *Gateway) handleListTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			http.Error(w, "store not available", http.StatusServiceUnavailable)
			return
		}
		ownerID, err := strconv.ParseInt(chi.URLParam(r, "owner"), 10, 64)
		if err != nil {
			http.Error(w, "invalid owner id", http.StatusBadRequest)
			return
		}

		out := []templateJSON{}
		for _, tpl := range g.store.GetAll(ownerID) {
			out = append(out, toTemplateJSON(tpl))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func toTemplateJSON(tpl template.Template) templateJSON {
	return templateJSON{
		Name:      tpl.Name,
		ChatTitle: tpl.ChatTitle,
		Topics:    len(tpl.Topics),
		CreatedAt: tpl.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListRuns returns recent provisioning runs from the audit log.
func (g *Gateway) handleListRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.history == nil {
			http.Error(w, "history not available", http.StatusServiceUnavailable)
			return
		}

		limit := defaultRunLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		runs, err := g.history.Recent(r.Context(), limit)
		if err != nil {
			g.logger.Error("listing runs failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []history.Run{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runs)
	}
}
