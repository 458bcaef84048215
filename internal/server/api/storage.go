package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"filevault/internal/server/delivery"
	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HandleUpload handles POST /api/storage/:user.
// Accepts a multipart form with a "file" field and an optional "comment"
// field, and responds with the owner's updated file list.
func (h *Handler) HandleUpload(c echo.Context) error {
	ownerID, err := pathID(c, "user")
	if err != nil {
		return mapServiceError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return writeError(c, http.StatusBadRequest, "validation_error", "file is required (use form field 'file')")
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		return mapServiceError(c, service.ErrFileTooLarge)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return writeError(c, http.StatusBadRequest, "validation_error", "failed to read uploaded file")
	}
	defer src.Close()

	ctx := c.Request().Context()
	if _, err := h.files.Upload(ctx, ownerID, fileHeader.Filename, c.FormValue("comment"), src); err != nil {
		return mapServiceError(c, err)
	}

	files, err := h.files.ListFiles(ctx, ownerID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, newFileList(files))
}

// HandleListFiles handles GET /api/storage/:user.
func (h *Handler) HandleListFiles(c echo.Context) error {
	ownerID, err := pathID(c, "user")
	if err != nil {
		return mapServiceError(c, err)
	}

	files, err := h.files.ListFiles(c.Request().Context(), ownerID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileList(files))
}

// HandleView handles GET /api/storage/view/:user/:file.
// Serves the file inline for display in the browser.
func (h *Handler) HandleView(c echo.Context) error {
	ownerID, fileID, err := ownerAndFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	d, err := h.files.OpenForView(c.Request().Context(), ownerID, fileID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.stream(c, d)
}

// HandleDownload handles GET /api/storage/download/:file.
// Serves the file as an attachment to its owner or an admin.
func (h *Handler) HandleDownload(c echo.Context) error {
	fileID, err := pathID(c, "file")
	if err != nil {
		return mapServiceError(c, err)
	}

	d, err := h.files.OpenForDownload(c.Request().Context(), currentUser(c), fileID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.stream(c, d)
}

// HandleShared handles GET /api/storage/shared/:token.
// Serves the file behind a share token to anyone holding it.
func (h *Handler) HandleShared(c echo.Context) error {
	d, err := h.files.OpenShared(c.Request().Context(), c.Param("token"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.stream(c, d)
}

// HandleIssueLink handles POST /api/storage/link/:user/:file.
func (h *Handler) HandleIssueLink(c echo.Context) error {
	ownerID, fileID, err := ownerAndFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	link, err := h.files.IssueLink(c.Request().Context(), ownerID, fileID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

type renameRequest struct {
	Name string `json:"name"`
}

// HandleRename handles PATCH /api/storage/:user/:file.
func (h *Handler) HandleRename(c echo.Context) error {
	ownerID, fileID, err := ownerAndFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	f, err := h.files.RenameFile(c.Request().Context(), ownerID, fileID, req.Name)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newFileResponse(f))
}

// HandleDeleteFile handles DELETE /api/storage/:user/:file.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	ownerID, fileID, err := ownerAndFile(c)
	if err != nil {
		return mapServiceError(c, err)
	}

	if err := h.files.DeleteFile(c.Request().Context(), ownerID, fileID); err != nil {
		return mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func ownerAndFile(c echo.Context) (int64, int64, error) {
	ownerID, err := pathID(c, "user")
	if err != nil {
		return 0, 0, err
	}
	fileID, err := pathID(c, "file")
	if err != nil {
		return 0, 0, err
	}
	return ownerID, fileID, nil
}

// stream writes the delivery headers and copies the content in chunks.
// Once the status line is sent, failures can only be logged.
func (h *Handler) stream(c echo.Context, d *service.Delivery) error {
	defer d.Object.Close()

	name := d.Record.OriginalName
	contentType, body, raw := delivery.Header(d.Mode, name, d.Object)

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, contentType)
	header.Set(echo.HeaderContentDisposition, delivery.Disposition(d.Mode, name))
	header.Set("X-Filename", delivery.EncodeFilename(name))
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	if d.Mode == delivery.Inline {
		// Uploaded HTML or SVG must not run scripts on the API origin.
		header.Set(echo.HeaderContentSecurityPolicy, "sandbox")
	}
	if raw && d.Object.Size >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(d.Object.Size, 10))
	}
	res.WriteHeader(http.StatusOK)

	n, err := delivery.Copy(c.Request().Context(), res, body, h.cfg.ChunkSize)
	if err != nil {
		slog.Warn("transfer interrupted",
			"file_id", d.Record.ID,
			"bytes_sent", n,
			"error", err,
		)
	}
	return nil
}
