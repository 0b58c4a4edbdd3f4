// Package api hosts the HTTP server, middleware, and JSON handlers. Notable routes:
//   - GET /health and /readyz for liveness and scraper readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/manufacturers/... for catalog browsing and manual resolution.
//   - GET /api/manual-metadata to download a manual into the session's asset set.
//   - POST /api/clear-session-pdfs and friends for session-scoped cleanup.
//   - GET /public/temp-pdfs/{file} for cached PDFs and previews.
package api
