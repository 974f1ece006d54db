// Package server wires handlers, authorization and middleware into the HTTP
// API.
package server

import (
	"net/http"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/httpx"
	"github.com/diewo77/go-heatcrm/internal/config"
	"github.com/diewo77/go-heatcrm/internal/db"
	"github.com/diewo77/go-heatcrm/internal/handlers"
	"github.com/diewo77/go-heatcrm/internal/policy"
	"github.com/diewo77/go-heatcrm/internal/services"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/internal/stream"
	"gorm.io/gorm"
)

// Deps are the collaborators the API needs.
type Deps struct {
	DB          *gorm.DB
	Config      *config.Config
	Tokens      *auth.Manager
	Gate        *policy.AuthGate
	Store       storage.Store
	Hub         *stream.Hub
	Transcriber stream.Transcriber
	Extractor   stream.Extractor
}

// Server is the application's root http.Handler.
type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	deps    Deps
}

func New(d Deps) *Server {
	s := &Server{mux: http.NewServeMux(), deps: d}
	s.routes()
	var h http.Handler = s.mux
	h = d.Tokens.Middleware(h)
	h = CORS(d.Config.Server.CORSOrigin)(h)
	h = SecurityHeaders(h)
	h = WithLogging(h)
	h = Recover(h)
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type guard = func(http.Handler) http.Handler

// public registers a route that needs no session.
func (s *Server) public(pattern string, h httpx.HandlerFunc) {
	s.mux.Handle(pattern, httpx.Handle(h))
}

// authed registers a route behind a valid session plus any extra guards.
func (s *Server) authed(pattern string, h httpx.HandlerFunc, guards ...guard) {
	var next http.Handler = httpx.Handle(h)
	for i := len(guards) - 1; i >= 0; i-- {
		next = guards[i](next)
	}
	s.mux.Handle(pattern, s.deps.Tokens.RequireAuth(next))
}

func (s *Server) can(resource string, action policy.Action) guard {
	return s.deps.Gate.RequirePermission(resource, action)
}

// crud registers the five collection and item routes of a resource.
func (s *Server) crud(base, resource string, list, create, get, update, del httpx.HandlerFunc) {
	s.authed("GET "+base, list, s.can(resource, policy.ActionList))
	s.authed("POST "+base, create, s.can(resource, policy.ActionCreate))
	s.authed("GET "+base+"/{id}", get, s.can(resource, policy.ActionView))
	s.authed("PUT "+base+"/{id}", update, s.can(resource, policy.ActionUpdate))
	s.authed("DELETE "+base+"/{id}", del, s.can(resource, policy.ActionDelete))
}

func (s *Server) routes() {
	d := s.deps
	audit := services.NewAuditRecorder(d.DB)
	maxBytes := d.Config.Media.MaxBytes()

	authH := handlers.NewAuthHandler(d.DB, d.Tokens, audit)
	customers := handlers.NewCustomerHandler(d.DB, d.Store, audit)
	leads := handlers.NewLeadHandler(d.DB, audit)
	products := handlers.NewProductHandler(d.DB, audit)
	quotes := handlers.NewQuoteHandler(d.DB, services.NewQuoteService(d.DB, d.Config.App.StrictQuoteTransitions), audit)
	appointments := handlers.NewAppointmentHandler(d.DB, audit)
	visits := handlers.NewVisitHandler(d.DB, d.Store, audit)
	modules := handlers.NewModuleHandler(d.DB, audit)
	transcripts := handlers.NewTranscriptionHandler(d.DB, d.Store, maxBytes, d.Transcriber, d.Extractor, d.Hub, audit)
	media := handlers.NewMediaHandler(d.DB, d.Store, maxBytes, audit)
	boilers := handlers.NewBoilerHandler(d.DB, audit)
	users := handlers.NewUserHandler(d.DB, d.Gate, audit)
	dashboard := handlers.NewDashboardHandler(services.NewDashboardService(d.DB))

	// ─────────────────────────────────────────────────────────────────────────
	// Public routes (no auth required)
	// ─────────────────────────────────────────────────────────────────────────
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.public("GET /healthz", func(w http.ResponseWriter, r *http.Request) error {
		if err := db.Ping(d.DB.WithContext(r.Context())); err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return nil
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
		return nil
	})
	s.public("POST /api/auth/register", authH.Register)
	s.public("POST /api/auth/login", authH.Login)
	s.public("POST /api/auth/refresh", authH.Refresh)
	s.public("POST /api/auth/logout", authH.Logout)
	s.public("GET /api/public/view/{shareId}", visits.PublicView)
	s.public("GET /api/public/view/{shareId}/media/{id}", visits.PublicMedia)

	// ─────────────────────────────────────────────────────────────────────────
	// Session routes (any signed-in user)
	// ─────────────────────────────────────────────────────────────────────────
	s.authed("GET /api/auth/me", authH.Me)
	s.authed("POST /api/auth/change-password", authH.ChangePassword)
	s.authed("GET /api/users/me/preferences", authH.GetPreferences)
	s.authed("PUT /api/users/me/preferences", authH.UpdatePreferences)

	// ─────────────────────────────────────────────────────────────────────────
	// CRM resources
	// ─────────────────────────────────────────────────────────────────────────
	s.authed("GET /api/customers/export", customers.Export, s.can(policy.ResourceCustomer, policy.ActionList))
	s.crud("/api/customers", policy.ResourceCustomer,
		customers.List, customers.Create, customers.Get, customers.Update, customers.Delete)
	s.crud("/api/leads", policy.ResourceLead,
		leads.List, leads.Create, leads.Get, leads.Update, leads.Delete)
	s.crud("/api/products", policy.ResourceProduct,
		products.List, products.Create, products.Get, products.Update, products.Delete)
	s.crud("/api/appointments", policy.ResourceAppointment,
		appointments.List, appointments.Create, appointments.Get, appointments.Update, appointments.Delete)
	s.authed("GET /api/dashboard/stats", dashboard.Stats, s.can(policy.ResourceDashboard, policy.ActionView))

	// ─────────────────────────────────────────────────────────────────────────
	// Quotes
	// ─────────────────────────────────────────────────────────────────────────
	s.authed("GET /api/quotes/export", quotes.Export, s.can(policy.ResourceQuote, policy.ActionList))
	s.crud("/api/quotes", policy.ResourceQuote,
		quotes.List, quotes.Create, quotes.Get, quotes.Update, quotes.Delete)
	s.authed("POST /api/quotes/{id}/send", quotes.Send(), s.can(policy.ResourceQuote, policy.ActionUpdate))
	s.authed("POST /api/quotes/{id}/view", quotes.View(), s.can(policy.ResourceQuote, policy.ActionUpdate))
	s.authed("POST /api/quotes/{id}/accept", quotes.Accept(), s.can(policy.ResourceQuote, policy.ActionUpdate))
	s.authed("POST /api/quotes/{id}/reject", quotes.Reject(), s.can(policy.ResourceQuote, policy.ActionUpdate))
	s.authed("POST /api/quotes/{id}/duplicate", quotes.Duplicate, s.can(policy.ResourceQuote, policy.ActionCreate))
	s.authed("GET /api/quotes/{id}/pdf", quotes.PDF, s.can(policy.ResourceQuote, policy.ActionView))

	// ─────────────────────────────────────────────────────────────────────────
	// Visits, survey modules, transcription
	// ─────────────────────────────────────────────────────────────────────────
	visitRead := s.can(policy.ResourceVisit, policy.ActionView)
	visitWrite := s.can(policy.ResourceVisit, policy.ActionUpdate)
	s.crud("/api/visits", policy.ResourceVisit,
		visits.List, visits.Create, visits.Get, visits.Update, visits.Delete)
	s.authed("POST /api/visits/{id}/complete", visits.Complete, visitWrite)
	s.authed("POST /api/visits/{id}/share", visits.Share, visitWrite)
	s.authed("DELETE /api/visits/{id}/share", visits.Unshare, visitWrite)

	s.authed("GET /api/visits/{id}/modules", modules.List, visitRead)
	s.authed("POST /api/visits/{id}/modules", modules.Create, visitWrite)
	s.authed("GET /api/visits/{id}/modules/{moduleId}", modules.Get, visitRead)
	s.authed("PUT /api/visits/{id}/modules/{moduleId}", modules.Update, visitWrite)
	s.authed("DELETE /api/visits/{id}/modules/{moduleId}", modules.Delete, visitWrite)
	s.authed("POST /api/visits/{id}/modules/{moduleId}/complete", modules.Complete, visitWrite)

	s.authed("GET /api/visits/{id}/transcriptions", transcripts.List, visitRead)
	s.authed("POST /api/visits/{id}/transcriptions", transcripts.Create, visitWrite)
	s.authed("GET /api/visits/{id}/transcriptions/live", transcripts.Live, visitWrite)
	s.authed("POST /api/visits/{id}/transcriptions/{tid}/extract", transcripts.Extract, visitWrite)
	s.authed("GET /api/visits/{id}/observations", transcripts.ListObservations, visitRead)
	s.authed("POST /api/visits/{id}/observations", transcripts.CreateObservation, visitWrite)
	s.authed("DELETE /api/visits/{id}/observations/{oid}", transcripts.DeleteObservation, visitWrite)

	// ─────────────────────────────────────────────────────────────────────────
	// Media
	// ─────────────────────────────────────────────────────────────────────────
	s.authed("POST /api/media/upload", media.Upload, s.can(policy.ResourceMedia, policy.ActionCreate))
	s.authed("GET /api/media", media.List, s.can(policy.ResourceMedia, policy.ActionList))
	s.authed("GET /api/media/{id}", media.Get, s.can(policy.ResourceMedia, policy.ActionView))
	s.authed("GET /api/media/file/{id}", media.File, s.can(policy.ResourceMedia, policy.ActionView))
	s.authed("DELETE /api/media/{id}", media.Delete, s.can(policy.ResourceMedia, policy.ActionDelete))
	s.authed("POST /api/media/{id}/annotate", media.Annotate, s.can(policy.ResourceMedia, policy.ActionUpdate))

	// ─────────────────────────────────────────────────────────────────────────
	// Reference data and account administration (writes are admin only)
	// ─────────────────────────────────────────────────────────────────────────
	admin := d.Gate.RequireAdmin()
	s.authed("GET /api/boilers", boilers.List, s.can(policy.ResourceBoiler, policy.ActionList))
	s.authed("GET /api/boilers/{id}", boilers.Get, s.can(policy.ResourceBoiler, policy.ActionView))
	s.authed("POST /api/boilers", boilers.Create, admin)
	s.authed("PUT /api/boilers/{id}", boilers.Update, admin)
	s.authed("DELETE /api/boilers/{id}", boilers.Delete, admin)

	s.authed("GET /api/users", users.List, s.can(policy.ResourceUser, policy.ActionList))
	s.authed("GET /api/users/{id}", users.Get, s.can(policy.ResourceUser, policy.ActionView))
	s.authed("POST /api/users", users.Create, admin)
	s.authed("PUT /api/users/{id}", users.Update, admin)
	s.authed("DELETE /api/users/{id}", users.Delete, admin)

	s.mux.Handle("/", httpx.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return httpx.NotFound("route")
	}))
}
