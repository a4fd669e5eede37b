package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestObserver(h.metrics, h.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/users", func(users chi.Router) {
			users.Post("/register", h.Register)
			users.Post("/login", h.Login)
			users.With(h.RequireSession).Get("/me", h.Me)
			users.With(h.RequireSession).Post("/logout", h.Logout)
		})

		api.Group(func(p chi.Router) {
			p.Use(h.RequireSession)

			p.Route("/conversations", func(c chi.Router) {
				c.Post("/", h.CreateConversation)
				c.Get("/", h.ListConversations)
				c.Get("/{id}", h.GetConversation)
				c.Patch("/{id}", h.RenameConversation)
				c.Get("/{id}/messages", h.ListMessages)
				c.Post("/{id}/messages", h.PostMessage)
				c.Post("/{id}/save_response", h.SaveResponse)
			})

			p.Post("/llm/chat", h.LLMChat)
			p.Post("/tot/chat", h.TOTChat)
			p.Post("/ocr/recognize", h.OCRRecognize)
		})

		api.Post("/ocr/test", h.OCRTest)
	})

	return r
}
