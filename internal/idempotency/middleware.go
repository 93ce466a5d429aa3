package idempotency

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

const (
	headerName = "Idempotency-Key"
	localsKey  = "idempotency_key"
)

// Middleware short-circuits creation requests whose Idempotency-Key has
// already produced a response, replaying the stored status and body. On a
// miss the key is stashed for the handler to Save after a successful create.
func Middleware(cache *Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(headerName)
		if key == "" {
			return c.Next()
		}

		record, err := cache.Lookup(c.UserContext(), key)
		if err != nil {
			return apperrors.MapError(err)
		}
		if record != nil {
			c.Status(record.StatusCode)
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(record.Response)
		}

		c.Locals(localsKey, key)
		return c.Next()
	}
}

// KeyFromContext returns the pending idempotency key, if the request
// carried one that has not been seen before.
func KeyFromContext(c *fiber.Ctx) (string, bool) {
	key, ok := c.Locals(localsKey).(string)
	return key, ok && key != ""
}

// RecordFor builds the record a handler should Save for the given key.
func RecordFor(key string, principal *auth.Principal, response []byte, statusCode int) *domain.IdempotencyRecord {
	record := &domain.IdempotencyRecord{
		Key:        key,
		Response:   response,
		StatusCode: statusCode,
	}
	if principal != nil {
		userID := principal.UserID
		record.UserID = &userID
	}
	return record
}
