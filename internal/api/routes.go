package api

import (
	"net/http"

	"github.com/pulsecheck/sift/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain) {
	routes.Register(
		mux,
		domain.Scan.Handler().Routes(),
		domain.AILog.Handler().Routes(),
	)
}
