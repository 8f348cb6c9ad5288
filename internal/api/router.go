package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/pdfscan/internal/api/middleware"
	"github.com/phrazzld/pdfscan/internal/events"
)

// NewRouter wires the handlers and middleware into a chi router.
func NewRouter(tasks *TaskHandler, gateway *Gateway, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(logger))

	r.Post("/upload", tasks.Upload)
	r.Get("/tasks", tasks.ListTasks)
	r.Get("/tasks/{id}", tasks.GetTask)
	r.Get("/scan-results/{id}", tasks.GetScanResults)
	r.Get(events.ReportPathPrefix+"{file}", tasks.GetReport)
	r.Get("/metrics", tasks.GetMetrics)
	r.Get("/health", tasks.Health)
	r.Method(http.MethodGet, "/ws", gateway)

	return r
}
