package http

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/blob"
	"clipnote/internal/markdown"
	"clipnote/internal/model"
	"clipnote/internal/services"
	"clipnote/internal/store"
)

func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// ownsImage reports whether the note's image may be served or removed for
// the requesting user.
func (s *Server) ownsImage(c *fiber.Ctx, note store.Note) bool {
	if note.ImageKey == "" || s.deps.Images == nil {
		return false
	}
	if !blob.OwnedBy(userID(c), note.ImageKey) {
		requestLogger(c).Warn("note image key outside user prefix", zap.String("note_id", note.ID.String()), zap.String("key", note.ImageKey))
		return false
	}
	return true
}

func (s *Server) listNotesHandler(c *fiber.Ctx) error {
	f := store.NoteFilter{
		Type:   c.Query("type"),
		Query:  strings.TrimSpace(c.Query("q")),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if f.Type != "" && f.Type != string(model.ResultRecipe) && f.Type != string(model.ResultSummary) {
		return badRequest(c, "type must be recipe or summary")
	}
	if raw := c.Query("category"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "invalid category")
		}
		f.CategoryID = &id
	}

	notes, err := s.deps.Store.ListNotes(c.UserContext(), userID(c), f)
	if err != nil {
		return writeStoreError(c, err, "note")
	}
	out := make([]NoteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteResponse(n))
	}
	return c.JSON(fiber.Map{"success": true, "notes": out})
}

func (s *Server) createNoteHandler(c *fiber.Ctx) error {
	var req CreateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if len(req.Result) == 0 {
		return badRequest(c, "result is required")
	}
	var res model.Result
	if err := json.Unmarshal(req.Result, &res); err != nil {
		return badRequest(c, "result is not a valid note")
	}
	if req.ImageKey != "" && !blob.OwnedBy(userID(c), req.ImageKey) {
		return badRequest(c, "imageKey does not belong to this user")
	}
	categoryID, err := s.resolveCategory(c, req.CategoryID)
	if err != nil {
		return err
	}

	in, err := services.NoteFromResult(userID(c), categoryID, strings.TrimSpace(req.SourceURL), req.ImageKey, res)
	if err != nil {
		return err
	}
	if req.Title != nil {
		in.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		in.Content = *req.Content
	}

	note, err := s.deps.Store.CreateNote(c.UserContext(), in)
	if err != nil {
		return writeStoreError(c, err, "note")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "note": noteResponse(note)})
}

func (s *Server) getNoteHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	note, err := s.deps.Store.GetNote(c.UserContext(), userID(c), id)
	if err != nil {
		return writeStoreError(c, err, "note")
	}

	resp := noteResponse(note)
	if s.ownsImage(c, note) {
		if u, err := s.deps.Images.URL(c.UserContext(), note.ImageKey); err == nil {
			resp.ImageURL = u
		} else {
			requestLogger(c).Warn("presign image failed", zap.String("key", note.ImageKey), zap.Error(err))
		}
	}
	return c.JSON(fiber.Map{"success": true, "note": resp})
}

func (s *Server) updateNoteHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}

	patch := store.NotePatch{Content: req.Content}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			return badRequest(c, "title must not be empty")
		}
		patch.Title = &t
	}
	if req.CategoryID != nil {
		if strings.TrimSpace(*req.CategoryID) == "" {
			patch.ClearCategory = true
		} else {
			cid, err := s.resolveCategory(c, *req.CategoryID)
			if err != nil {
				return err
			}
			patch.CategoryID = cid
		}
	}

	note, err := s.deps.Store.UpdateNote(c.UserContext(), userID(c), id, patch)
	if err != nil {
		return writeStoreError(c, err, "note")
	}
	return c.JSON(fiber.Map{"success": true, "note": noteResponse(note)})
}

func (s *Server) deleteNoteHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	note, err := s.deps.Store.GetNote(c.UserContext(), userID(c), id)
	if err != nil {
		return writeStoreError(c, err, "note")
	}
	if err := s.deps.Store.DeleteNote(c.UserContext(), userID(c), id); err != nil {
		return writeStoreError(c, err, "note")
	}
	if s.ownsImage(c, note) {
		if err := s.deps.Images.Delete(c.UserContext(), note.ImageKey); err != nil {
			requestLogger(c).Warn("delete note image failed", zap.String("key", note.ImageKey), zap.Error(err))
		}
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) noteHTMLHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	note, err := s.deps.Store.GetNote(c.UserContext(), userID(c), id)
	if err != nil {
		return writeStoreError(c, err, "note")
	}
	doc, err := markdown.Document(note.Title, note.Content)
	if err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.SendString(doc)
}
