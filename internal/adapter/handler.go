package adapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/postforge/autopost/internal/models"
)

// Handler exposes an Adapter as an independently invokable HTTP endpoint.
// Every outcome, including validation failures, is expressed through the
// {ok, ...} envelope; only the method check falls outside it.
type Handler struct {
	platform    string
	adapter     Adapter
	tokenSecret []byte
}

func NewHandler(platformID string, a Adapter, tokenSecret []byte) *Handler {
	return &Handler{platform: platformID, adapter: a, tokenSecret: tokenSecret}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(h.tokenSecret) > 0 {
		token := bearerToken(r)
		if token == "" || VerifyServiceToken(h.tokenSecret, h.platform, token) != nil {
			writeResult(w, http.StatusUnauthorized, Result{
				OK:           false,
				ErrorCode:    models.CodeUnauthenticated,
				ErrorMessage: "valid service token required",
			})
			return
		}
	}

	var req Request
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, Result{
			OK:           false,
			ErrorCode:    "INVALID_PAYLOAD",
			ErrorMessage: "dispatch payload did not parse",
		})
		return
	}

	res, err := h.adapter.Dispatch(r.Context(), req)
	if err != nil {
		writeResult(w, http.StatusBadGateway, Result{
			OK:           false,
			ErrorCode:    models.CodePlatformDispatchError,
			ErrorMessage: err.Error(),
		})
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeResult(w, status, res)
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func writeResult(w http.ResponseWriter, status int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
