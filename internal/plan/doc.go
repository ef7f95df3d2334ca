// Package plan builds response plans for stored alerts. The Orchestrator
// chains five stages (risk, draft, volunteers, shelter and route, persist),
// each backed by an injected collaborator with a local fallback, so that
// only an unknown alert id fails a request.
package plan
