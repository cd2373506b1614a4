// Package router assembles the portal's HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/handlers"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Sessions middleware.SessionLoader

	Auth          *handlers.AuthHandler
	Appointments  *handlers.AppointmentsHandler
	Patients      *handlers.PatientsHandler
	Prescriptions *handlers.PrescriptionsHandler
	Records       *handlers.RecordsHandler
	Chat          *handlers.ChatHandler
	Notifications *handlers.NotificationsHandler
	Audit         *handlers.AuditHandler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// LoginRate bounds unauthenticated auth attempts per IP per second;
	// zero disables the limiter (tests).
	LoginRate  float64
	LoginBurst int
}

var staffRoles = []auth.Role{auth.RoleDoctor, auth.RoleSecretary, auth.RoleAdmin, auth.RoleStaff}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		public.Group(func(guest chi.Router) {
			if cfg.LoginRate > 0 {
				guest.Use(middleware.RateLimit(cfg.LoginRate, cfg.LoginBurst))
			}
			guest.Use(middleware.GuestOnly(cfg.Sessions))
			guest.Post("/auth/login", cfg.Auth.Login)
			guest.Post("/auth/register", cfg.Auth.Register)
		})

		public.Get("/auth/session", cfg.Auth.Session)
		public.Post("/auth/logout", cfg.Auth.Logout)
	})

	// Everything below requires a live session.
	r.Group(func(api chi.Router) {
		api.Use(middleware.RequireSession(cfg.Sessions))

		api.Get("/profile", cfg.Auth.Profile)
		api.Put("/profile", cfg.Auth.UpdateProfile)
		api.Post("/profile/password", cfg.Auth.ChangePassword)

		api.Route("/appointments", func(ap chi.Router) {
			ap.Get("/", cfg.Appointments.List)
			ap.Post("/", cfg.Appointments.Create)
			ap.Get("/{id}", cfg.Appointments.Get)
			ap.Put("/{id}", cfg.Appointments.Update)
			ap.Put("/{id}/status", cfg.Appointments.Transition)
			ap.Delete("/{id}", cfg.Appointments.Delete)
			ap.Get("/{id}/ical", cfg.Appointments.ICS)
		})
		api.Get("/calendar/events", cfg.Appointments.Calendar)
		api.Get("/availability", cfg.Appointments.Slots)
		api.Post("/availability/select", cfg.Appointments.SelectSlot)
		api.Get("/doctors", cfg.Appointments.Doctors)

		api.Route("/notifications", func(n chi.Router) {
			n.Get("/", cfg.Notifications.List)
			n.Post("/{id}/read", cfg.Notifications.MarkRead)
			n.Post("/read-all", cfg.Notifications.MarkAllRead)
			n.Get("/ws", cfg.Notifications.Push)
		})

		api.Route("/chat", func(c chi.Router) {
			c.Get("/conversations", cfg.Chat.Conversations)
			c.Post("/conversations", cfg.Chat.Start)
			c.Get("/conversations/{id}/messages", cfg.Chat.Messages)
			c.Post("/conversations/{id}/messages", cfg.Chat.Send)
		})

		// Clinical data is staff-only; patients reach their own copies
		// through the appointment and profile surfaces.
		api.Group(func(staff chi.Router) {
			staff.Use(middleware.RequireRoles(staffRoles...))

			staff.Route("/patients", func(p chi.Router) {
				p.Get("/", cfg.Patients.List)
				p.Get("/dropdown", cfg.Patients.Dropdown)
				p.Post("/", cfg.Patients.Create)
				p.Get("/{id}", cfg.Patients.Get)
				p.Put("/{id}", cfg.Patients.Update)
				p.Delete("/{id}", cfg.Patients.Delete)
			})

			staff.Route("/prescriptions", func(p chi.Router) {
				p.Get("/", cfg.Prescriptions.List)
				p.Get("/patient/{patientID}", cfg.Prescriptions.List)
				p.Post("/", cfg.Prescriptions.Create)
				p.Get("/{id}", cfg.Prescriptions.Get)
				p.Put("/{id}", cfg.Prescriptions.Update)
				p.Delete("/{id}", cfg.Prescriptions.Delete)
				p.Get("/{id}/pdf", cfg.Prescriptions.PDF)
			})

			staff.Route("/records", func(rec chi.Router) {
				rec.Get("/", cfg.Records.List)
				rec.Get("/patient/{patientID}", cfg.Records.List)
				rec.Post("/", cfg.Records.Create)
				rec.Get("/{id}", cfg.Records.Get)
				rec.Put("/{id}", cfg.Records.Update)
				rec.Delete("/{id}", cfg.Records.Delete)
				rec.Get("/{id}/notes", cfg.Records.Notes)
				rec.Post("/{id}/notes", cfg.Records.AddNote)
				rec.Get("/{id}/files", cfg.Records.Files)
				rec.Post("/{id}/files", cfg.Records.Upload)
				rec.Get("/{id}/files/{fileID}", cfg.Records.Download)
			})
		})

		api.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireRoles(auth.RoleAdmin))
			admin.Get("/admin/audit", cfg.Audit.Recent)
			admin.Get("/admin/audit/{entity}/{entityID}", cfg.Audit.ForEntity)
		})
	})

	return r
}
