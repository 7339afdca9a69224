package http

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"

	"clipnote/internal/markdown"
	"clipnote/internal/normalize"
	"clipnote/internal/store"
)

const maxCustomPromptRunes = 2000

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

func (s *Server) listCategoriesHandler(c *fiber.Ctx) error {
	cats, err := s.deps.Store.ListCategories(c.UserContext(), userID(c))
	if err != nil {
		return writeStoreError(c, err, "category")
	}
	out := make([]CategoryResponse, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryResponse(cat))
	}
	return c.JSON(fiber.Map{"success": true, "categories": out})
}

func (s *Server) createCategoryHandler(c *fiber.Ctx) error {
	var req CategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return badRequest(c, "name is required")
	}
	cat, err := s.deps.Store.CreateCategory(c.UserContext(), userID(c), strings.TrimSpace(*req.Name))
	if err != nil {
		return writeStoreError(c, err, "category")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "category": categoryResponse(cat)})
}

func (s *Server) updateCategoryHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req CategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	patch := store.CategoryPatch{Position: req.Position}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return badRequest(c, "name must not be empty")
		}
		patch.Name = &name
	}
	if req.Position != nil && *req.Position < 0 {
		return badRequest(c, "position must not be negative")
	}

	cat, err := s.deps.Store.UpdateCategory(c.UserContext(), userID(c), id, patch)
	if err != nil {
		return writeStoreError(c, err, "category")
	}
	return c.JSON(fiber.Map{"success": true, "category": categoryResponse(cat)})
}

func (s *Server) deleteCategoryHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Store.DeleteCategory(c.UserContext(), userID(c), id); err != nil {
		return writeStoreError(c, err, "category")
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) listPagesHandler(c *fiber.Ctx) error {
	pages, err := s.deps.Store.ListPages(c.UserContext(), userID(c))
	if err != nil {
		return writeStoreError(c, err, "page")
	}
	out := make([]PageResponse, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageResponse(p))
	}
	return c.JSON(fiber.Map{"success": true, "pages": out})
}

func (s *Server) createPageHandler(c *fiber.Ctx) error {
	var req PageRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if req.Slug == nil || !slugPattern.MatchString(*req.Slug) {
		return badRequest(c, "slug must be lowercase letters, digits and hyphens")
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return badRequest(c, "title is required")
	}

	p := store.Page{UserID: userID(c), Slug: *req.Slug, Title: strings.TrimSpace(*req.Title)}
	if req.Content != nil {
		p.Content = *req.Content
	}
	if req.Published != nil {
		p.Published = *req.Published
	}

	page, err := s.deps.Store.CreatePage(c.UserContext(), p)
	if err != nil {
		return writeStoreError(c, err, "page")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "page": pageResponse(page)})
}

func (s *Server) getPageHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	page, err := s.deps.Store.GetPage(c.UserContext(), userID(c), id)
	if err != nil {
		return writeStoreError(c, err, "page")
	}
	return c.JSON(fiber.Map{"success": true, "page": pageResponse(page)})
}

func (s *Server) updatePageHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req PageRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if req.Slug != nil && !slugPattern.MatchString(*req.Slug) {
		return badRequest(c, "slug must be lowercase letters, digits and hyphens")
	}
	patch := store.PagePatch{Slug: req.Slug, Content: req.Content, Published: req.Published}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			return badRequest(c, "title must not be empty")
		}
		patch.Title = &t
	}

	page, err := s.deps.Store.UpdatePage(c.UserContext(), userID(c), id, patch)
	if err != nil {
		return writeStoreError(c, err, "page")
	}
	return c.JSON(fiber.Map{"success": true, "page": pageResponse(page)})
}

func (s *Server) deletePageHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Store.DeletePage(c.UserContext(), userID(c), id); err != nil {
		return writeStoreError(c, err, "page")
	}
	return c.JSON(fiber.Map{"success": true})
}

// publicPageHandler renders a published page without authentication.
func (s *Server) publicPageHandler(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if !slugPattern.MatchString(slug) {
		return notFound(c, "page")
	}
	page, err := s.deps.Store.GetPublishedPage(c.UserContext(), slug)
	if err != nil {
		return writeStoreError(c, err, "page")
	}
	doc, err := markdown.Document(page.Title, page.Content)
	if err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.SendString(doc)
}

func (s *Server) getSettingsHandler(c *fiber.Ctx) error {
	st, err := s.deps.Store.GetSettings(c.UserContext(), userID(c))
	if err != nil {
		return writeStoreError(c, err, "settings")
	}
	return c.JSON(fiber.Map{"success": true, "settings": settingsResponse(st)})
}

func (s *Server) updateSettingsHandler(c *fiber.Ctx) error {
	var req SettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}

	upd := store.SettingsUpdate{
		AISummaryEnabled: req.AISummaryEnabled,
		CustomPrompt:     req.CustomPrompt,
	}
	if req.GeminiAPIKey != nil {
		k := strings.TrimSpace(*req.GeminiAPIKey)
		upd.GeminiAPIKey = &k
	}
	if req.SummaryLength != nil {
		l := strings.ToLower(strings.TrimSpace(*req.SummaryLength))
		if !normalize.ValidLength(l) {
			return badRequest(c, "summaryLength must be short, medium or long")
		}
		upd.SummaryLength = &l
	}
	if req.CustomPrompt != nil && len([]rune(*req.CustomPrompt)) > maxCustomPromptRunes {
		return badRequest(c, "customPrompt is too long")
	}
	if req.DisplayName != nil {
		n := strings.TrimSpace(*req.DisplayName)
		upd.DisplayName = &n
	}

	st, err := s.deps.Store.UpdateSettings(c.UserContext(), userID(c), upd)
	if err != nil {
		return writeStoreError(c, err, "settings")
	}
	return c.JSON(fiber.Map{"success": true, "settings": settingsResponse(st)})
}

func (s *Server) usageHandler(c *fiber.Ctx) error {
	snap, err := s.deps.Usage.Status(c.UserContext(), userID(c))
	if err != nil {
		return writeClipError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "usage": snap})
}
