package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"reelflow-backend/internal/handlers"
	"reelflow-backend/internal/middleware"
)

type Options struct {
	FrontendURL     string
	WebhookSecret   string
	SubmitRateLimit int
}

func New(
	jwtAuth *middleware.JWTAuth,
	videoHandler *handlers.VideoHandler,
	webhookHandler *handlers.WebhookHandler,
	adminHandler *handlers.AdminHandler,
	wsHandler http.HandlerFunc,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	// Submissions per owner per minute
	submitLimiter := middleware.NewRateLimiter(opts.SubmitRateLimit, time.Minute)
	webhookAuth := middleware.WebhookSecret(opts.WebhookSecret)
	adminAuth := middleware.AdminSecret(opts.WebhookSecret)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Video Routes ────
		r.Route("/videos", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(submitLimiter.Middleware).Post("/submit", videoHandler.Submit)
			r.Get("/", videoHandler.List)
			r.Post("/auto-edit", videoHandler.AutoEdit)
			r.Post("/batch-edit", videoHandler.BatchEdit)
			r.Post("/apply-preset", videoHandler.ApplyPreset)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", videoHandler.Get)
				r.Patch("/", videoHandler.Rename)
				r.Get("/sample-presigned-url", videoHandler.SamplePresignedURL)
				r.Get("/download-presigned-url", videoHandler.DownloadPresignedURL)
				r.Get("/download-srt", videoHandler.DownloadSrt)
				r.Get("/result", videoHandler.StreamResult)
				r.Post("/upload-logo", videoHandler.UploadLogo)
				r.Post("/save-edit", videoHandler.SaveEdit)
				r.Post("/cancel-auto", videoHandler.CancelAuto)
				r.Post("/retry", videoHandler.Retry)
			})
		})

		// ──── File Routes ────
		r.Route("/files", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/presign", videoHandler.FilesPresign)
		})

		// ──── Worker Callbacks ────
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(webhookAuth)
			r.Post("/download-complete", webhookHandler.DownloadComplete)
			r.Post("/n8n-complete", webhookHandler.N8nComplete)
			r.Post("/edit-complete", webhookHandler.EditComplete)
			r.Post("/failed", webhookHandler.Failed)
		})

		// ──── Admin ────
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Post("/retention/run", adminHandler.RunRetention)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHandler)
	})

	return r
}
