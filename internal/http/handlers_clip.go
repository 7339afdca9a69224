package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/model"
	"clipnote/internal/services"
	"clipnote/internal/store"
)

const (
	maxImageBytes = 10 << 20
	maxVideoBytes = 20 << 20
)

var (
	allowedImageTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
		"image/gif":  true,
		"image/heic": true,
	}
	allowedVideoTypes = map[string]bool{
		"video/mp4":       true,
		"video/quicktime": true,
		"video/webm":      true,
	}
)

// runClip executes the pipeline and writes the NormalizedResult. Degraded
// and free-tier outcomes are reported in headers.
func (s *Server) runClip(c *fiber.Ctx, req model.SourceRequest) error {
	out, err := s.deps.Clipper.Clip(c.UserContext(), userID(c), req)
	if err != nil {
		return writeClipError(c, err)
	}
	return writeOutcome(c, out)
}

func writeOutcome(c *fiber.Ctx, out services.Outcome) error {
	if out.Degraded {
		c.Locals("degraded", out.DegradeReason)
		c.Set("X-Clip-Degraded", out.DegradeReason)
	}
	if out.FreeTier {
		c.Set("X-Usage-Remaining", strconv.Itoa(out.Remaining))
	}
	return c.JSON(out.Result)
}

func (s *Server) clipURLHandler(c *fiber.Ctx) error {
	var req ClipURLRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	return s.runClip(c, model.SourceRequest{Kind: model.SourceURL, URL: req.URL, SkipAI: req.SkipAI})
}

func (s *Server) clipTextHandler(c *fiber.Ctx) error {
	var req ClipTextRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	return s.runClip(c, model.SourceRequest{Kind: model.SourceText, Text: req.Text, SkipAI: req.SkipAI})
}

type upload struct {
	data     []byte
	mimeType string
	name     string
}

// readUpload loads the multipart "file" field, enforcing size and type.
func readUpload(c *fiber.Ctx, maxBytes int64, allowed map[string]bool) (upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return upload{}, fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	if fh.Size > maxBytes {
		return upload{}, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("file is too large (max %d MiB)", maxBytes>>20))
	}

	mimeType := fh.Header.Get(fiber.HeaderContentType)
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	mimeType = strings.ToLower(mimeType)
	if !allowed[mimeType] {
		return upload{}, fiber.NewError(fiber.StatusBadRequest, "unsupported file type: "+mimeType)
	}

	f, err := fh.Open()
	if err != nil {
		return upload{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return upload{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return upload{}, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("file is too large (max %d MiB)", maxBytes>>20))
	}
	return upload{data: data, mimeType: mimeType, name: fh.Filename}, nil
}

func formBool(c *fiber.Ctx, key string) bool {
	v, err := strconv.ParseBool(c.FormValue(key))
	return err == nil && v
}

func (s *Server) clipImageHandler(c *fiber.Ctx) error {
	up, err := readUpload(c, maxImageBytes, allowedImageTypes)
	if err != nil {
		return err
	}

	out, err := s.deps.Clipper.Clip(c.UserContext(), userID(c), model.SourceRequest{
		Kind:     model.SourceImage,
		Data:     up.data,
		MIMEType: up.mimeType,
		FileName: up.name,
		SkipAI:   formBool(c, "skipAI"),
	})
	if err != nil {
		return writeClipError(c, err)
	}

	// Only images that produced a clip are kept.
	if s.deps.Images != nil {
		key, err := s.deps.Images.Put(c.UserContext(), userID(c), up.mimeType, up.data)
		if err != nil {
			requestLogger(c).Warn("image upload failed", zap.Error(err))
		} else {
			c.Set("X-Image-Key", key)
		}
	}
	return writeOutcome(c, out)
}

func (s *Server) clipVideoHandler(c *fiber.Ctx) error {
	up, err := readUpload(c, maxVideoBytes, allowedVideoTypes)
	if err != nil {
		return err
	}
	return s.runClip(c, model.SourceRequest{
		Kind:     model.SourceVideo,
		Data:     up.data,
		MIMEType: up.mimeType,
		FileName: up.name,
		SkipAI:   formBool(c, "skipAI"),
	})
}

func (s *Server) bulkClipHandler(c *fiber.Ctx) error {
	var req BulkClipRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	categoryID, err := s.resolveCategory(c, req.CategoryID)
	if err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	err = s.deps.Bulk.Enqueue(c.UserContext(), &services.BulkEnqueueRequest{
		ID:     id,
		UserID: userID(c),
		Input:  services.BulkInput{URLs: req.URLs, SkipAI: req.SkipAI, CategoryID: categoryID},
	})
	if err != nil {
		return writeClipError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(BulkClipResponse{
		Success: true,
		ID:      id.String(),
		URL:     "/v1/clip/bulk/" + id.String(),
		Status:  "pending",
	})
}

func (s *Server) bulkClipStatusHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid job id")
	}
	job, err := s.deps.Store.GetClipJob(c.UserContext(), userID(c), id)
	if err != nil {
		return writeStoreError(c, err, "job")
	}

	resp := BulkClipResponse{Success: true, ID: job.ID.String(), Status: job.Status}
	if job.Results.Valid {
		resp.Items = job.Results.RawMessage
	}
	if job.Error.Valid {
		resp.Error = job.Error.String
	}
	return c.JSON(resp)
}

// resolveCategory parses an optional category id and checks that it belongs
// to the caller.
func (s *Server) resolveCategory(c *fiber.Ctx, raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid categoryId")
	}
	if _, err := s.deps.Store.GetCategory(c.UserContext(), userID(c), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "category not found")
		}
		return nil, err
	}
	return &id, nil
}
