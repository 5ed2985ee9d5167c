package passkey

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	ag "github.com/panyam/authgate"
)

// Handler exposes the two ceremonies over HTTP:
//
//	GET  /register/options  creation options (logged in users only)
//	POST /register          attestation response
//	GET  /login/options     request options
//	POST /login             assertion response, logs the user in
//
// Completion endpoints answer {"verified": bool, "reason"?: string}.
type Handler struct {
	Ceremony   *Ceremony
	Sessions   ag.SessionStore
	Middleware *ag.Middleware

	router *mux.Router
}

func NewHandler(ceremony *Ceremony, sessions ag.SessionStore, middleware *ag.Middleware) *Handler {
	h := &Handler{Ceremony: ceremony, Sessions: sessions, Middleware: middleware}
	h.router = mux.NewRouter()
	h.router.HandleFunc("/register/options", h.registrationOptions).Methods(http.MethodGet)
	h.router.HandleFunc("/register", h.register).Methods(http.MethodPost)
	h.router.HandleFunc("/login/options", h.loginOptions).Methods(http.MethodGet)
	h.router.HandleFunc("/login", h.login).Methods(http.MethodPost)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registrationOptions(w http.ResponseWriter, r *http.Request) {
	user, err := h.Middleware.CurrentUser(r)
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	options, err := h.Ceremony.BeginRegistration(r.Context(), user)
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	ag.WriteJSON(w, http.StatusOK, options)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	in, err := ag.ReadInboundRequest(r)
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	user, err := h.Middleware.CurrentUser(r)
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	result, err := h.Ceremony.CompleteRegistration(r.Context(), user, in.Body)
	if err != nil {
		ag.RecordAttempt(ag.MethodPasskeySetup, ag.OutcomeError)
		ag.WriteError(w, err)
		return
	}
	ag.RecordAttempt(ag.MethodPasskeySetup, outcomeLabel(result))
	ag.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) loginOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.Ceremony.BeginAuthentication(r.Context())
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	ag.WriteJSON(w, http.StatusOK, options)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	in, err := ag.ReadInboundRequest(r)
	if err != nil {
		ag.WriteError(w, err)
		return
	}
	result, err := h.Ceremony.CompleteAuthentication(r.Context(), in.Body)
	if err != nil {
		ag.RecordAttempt(ag.MethodPasskey, ag.OutcomeError)
		ag.WriteError(w, err)
		return
	}
	if result.Verified {
		if err := ag.LoginSession(r.Context(), h.Sessions, result.User); err != nil {
			ag.RecordAttempt(ag.MethodPasskey, ag.OutcomeError)
			ag.WriteError(w, fmt.Errorf("regenerating session: %w", err))
			return
		}
		h.Ceremony.Logger.Info("passkey login", "user_id", result.User.ID)
	}
	ag.RecordAttempt(ag.MethodPasskey, outcomeLabel(result))
	ag.WriteJSON(w, http.StatusOK, result)
}

func outcomeLabel(result Result) string {
	if result.Verified {
		return ag.OutcomeSuccess
	}
	return ag.OutcomeRejected
}
