package handler

import (
	"net/http"

	"github.com/hitoshi/customervoice/internal/middleware"
)

// Health は死活監視用のハンドラー。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
