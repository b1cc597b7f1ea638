package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the session service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>stagepass-session - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "stagepass-session", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" }, "cookie": { "type": "apiKey", "in": "cookie", "name": "token" } }
  },
  "paths": {
    "/session": {
      "get": { "summary": "Current session context and gate flags", "responses": { "200": { "description": "session state" } } }
    },
    "/session/login": {
      "post": {
        "summary": "Sign in with username and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"username":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "signed in, token cookie set" }, "401": { "description": "authentication failed" }, "503": { "description": "identity provider unavailable" } }
      }
    },
    "/session/claims/refresh": {
      "post": { "summary": "Force a token refresh and recompute claims", "security": [{"bearer": []}, {"cookie": []}], "responses": { "200": { "description": "session state" }, "502": { "description": "refresh failed" } } }
    },
    "/session/signout": {
      "post": { "summary": "Sign out and clear the token cookie", "security": [{"bearer": []}, {"cookie": []}], "responses": { "204": { "description": "signed out" } } }
    },
    "/session/navigate": {
      "post": { "summary": "Move the client location through the route guard", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"path":{"type":"string"}}}}}}, "responses": { "200": { "description": "resulting location and render gate" } } }
    },
    "/session/render": {
      "get": { "summary": "Render gate for the current location", "responses": { "200": { "description": "render flag" } } }
    },
    "/session/profile": {
      "get": { "summary": "Profile document once loaded", "security": [{"bearer": []}, {"cookie": []}], "responses": { "200": { "description": "profile" }, "204": { "description": "not loaded yet" } } }
    },
    "/session/stats": {
      "get": { "summary": "Profile stats document", "security": [{"bearer": []}, {"cookie": []}], "responses": { "200": { "description": "stats" }, "204": { "description": "not loaded yet" } } }
    },
    "/session/backchannel-logout": {
      "post": { "summary": "OIDC back-channel logout", "requestBody": { "content": { "application/x-www-form-urlencoded": { "schema": {"type":"object","properties":{"logout_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "session ended" }, "400": { "description": "invalid logout token" } } }
    }
  }
}`
