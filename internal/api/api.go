// Package api contains the fiber handlers for the REST surface. Handlers
// stay thin: they parse the request, mint the authorization witness, call
// the action, and render the result.
package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/httputil"
)

// requester returns the identity extracted by the middleware, or nil for
// anonymous requests. The authz factories expect the nil form.
func requester(c fiber.Ctx) *auth.Requester {
	if r, ok := auth.RequesterFrom(c); ok {
		return &r
	}
	return nil
}

// clientID returns the client id a guest request presents, if any.
func clientID(c fiber.Ctx) string {
	return c.Query("clientId")
}

// parseUUID parses a path parameter as a uuid, failing with the given kind
// so a malformed id reads the same as a missing record.
func parseUUID(c fiber.Ctx, param string, kind errs.Kind) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		return uuid.Nil, errs.New(kind)
	}
	return id, nil
}

// failBody renders the uniform invalid-body response.
func failBody(c fiber.Ctx) error {
	return httputil.Fail(c, fiber.StatusBadRequest, "BadRequest", "Invalid request body.")
}
