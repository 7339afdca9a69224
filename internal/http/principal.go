package http

import "github.com/gofiber/fiber/v2"

// Principal is the authenticated identity of a request.
type Principal struct {
	UserID string
	// Source is "bearer" or "session".
	Source string
}

func principalFromCtx(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals("principal").(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// userID returns the authenticated user. Routes using it sit behind
// authMiddleware, so a missing principal is a wiring bug.
func userID(c *fiber.Ctx) string {
	p, _ := principalFromCtx(c)
	return p.UserID
}
