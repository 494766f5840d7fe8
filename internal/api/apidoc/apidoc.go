package apidoc

import (
	"embed"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

var (
	//go:embed openapi.yaml
	openapiFS embed.FS
)

// OpenAPIPath is where the embedded document is served.
const OpenAPIPath = "/openapi.yaml"

// OpenAPIHandler serves the embedded OpenAPI document.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := openapiFS.ReadFile("openapi.yaml")
		if err != nil {
			http.Error(w, "openapi document not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}

// SwaggerUIHandler renders the interactive docs for the embedded document. Mount it
// under /docs/*.
func SwaggerUIHandler() http.HandlerFunc {
	return httpSwagger.Handler(httpSwagger.URL(OpenAPIPath))
}
