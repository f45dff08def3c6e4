package httpapi

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/grammar"
	"github.com/dmitrijs2005/cfghost/internal/naming"
	"github.com/dmitrijs2005/cfghost/internal/server/models"
	"github.com/dmitrijs2005/cfghost/internal/server/services"
)

func (s *Server) indexHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := static.ReadFile("static/index.html")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", b)
	}
}

func (s *Server) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Ready != nil && !s.opts.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) uploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := s.opts.UploadLimit + multipartOverhead
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": common.ErrTooLarge.Error()})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

		if err := c.Request.ParseMultipartForm(limit); err != nil {
			var maxErr *http.MaxBytesError
			switch {
			case errors.As(err, &maxErr):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": common.ErrTooLarge.Error()})
			case errors.Is(err, http.ErrNotMultipart):
				c.JSON(http.StatusBadRequest, gin.H{"error": "request is not multipart"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart request"})
			}
			return
		}

		name := c.PostForm("name")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing config name"})
			return
		}

		typ, err := models.ParseConfigType(c.PostForm("type"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing config file"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config file"})
			return
		}
		defer f.Close()

		res, err := s.opts.Service.Publish(c.Request.Context(), services.PublishRequest{
			Name:    name,
			Content: f,
			Type:    typ,
			OwnerID: c.GetString(ownerKey),
		})
		if err != nil {
			s.writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message":  "upload complete",
			"key":      res.Key.String(),
			"id":       res.Entry.ID,
			"name":     res.Entry.Name,
			"repaired": res.Repaired,
		})
	}
}

func (s *Server) fetchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := s.opts.Service.Fetch(c.Request.Context(), c.Param("name"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		canonical, err := naming.Validate(c.Param("name"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		sendAttachment(c, canonical.String(), b)
	}
}

func (s *Server) listHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := s.opts.Service.List(c.Request.Context())
		if err != nil {
			s.writeError(c, err)
			return
		}
		if entries == nil {
			entries = []*models.ConfigEntry{}
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *Server) fetchByIDHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		entry, b, err := s.opts.Service.FetchByID(c.Request.Context(), id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		sendAttachment(c, entry.Name, b)
	}
}

func sendAttachment(c *gin.Context, filename string, b []byte) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", b)
}

// writeError maps service errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var lineErr *grammar.LineError
	switch {
	case errors.As(err, &lineErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  common.ErrInvalidConfig.Error(),
			"reason": lineErr.Reason,
			"line":   lineErr.Line,
		})
	case errors.Is(err, common.ErrInvalidName), errors.Is(err, common.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": common.ErrorNotFound.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		s.log.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": common.ErrorInternal.Error()})
	}
}
