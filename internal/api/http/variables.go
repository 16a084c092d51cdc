package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/varinspector/internal/inspector"
)

var errNoSource = errors.New("no active inspection source")

// refresh inspects src in the background when a refresher runs, or inline.
func (h *Handlers) refresh(c *gin.Context, src inspector.Inspectable) {
	if h.refresher != nil {
		h.refresher.Trigger()
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	src.PerformInspection(ctx)
}

func (h *Handlers) source(c *gin.Context) (inspector.Inspectable, bool) {
	src := h.manager.Source()
	if src == nil {
		h.fail(c, errNoSource)
		return nil, false
	}
	return src, true
}

// Inspect refreshes the active source. With ?wait=true, or without a
// background refresher, the listing is returned once the inspection ran.
func (h *Handlers) Inspect(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if h.refresher != nil && !wait {
		h.refresher.Trigger()
		c.JSON(http.StatusAccepted, gin.H{"success": true, "source": src.ID()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	src.PerformInspection(ctx)

	c.JSON(http.StatusOK, variablesBody(src))
}

// Variables returns the latest listing of the active source. Without a
// source the listing is empty.
func (h *Handlers) Variables(c *gin.Context) {
	src := h.manager.Source()
	if src == nil {
		c.JSON(http.StatusOK, gin.H{
			"source":    nil,
			"variables": []inspector.Variable{},
		})
		return
	}
	c.JSON(http.StatusOK, variablesBody(src))
}

func variablesBody(src inspector.Inspectable) gin.H {
	body := gin.H{
		"source":    src.ID(),
		"info":      src.Info(),
		"variables": []inspector.Variable{},
		"inspected": false,
	}
	if update, ok := src.LastUpdate(); ok {
		body["info"] = update.Info
		body["inspected"] = true
		if update.Payload != nil {
			body["variables"] = update.Payload
		}
	}
	if err := src.LastError(); err != nil {
		body["error"] = err.Error()
	}
	return body
}

// Matrix fetches the rows of a tabular variable of the active source.
func (h *Handlers) Matrix(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}

	maxRows := h.maxRows
	if raw := c.Query("max_rows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, fmt.Errorf("%w: max_rows must be a positive integer", errBadRequest))
			return
		}
		if n < maxRows {
			maxRows = n
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	model, err := src.PerformMatrixInspection(ctx, c.Param("name"), maxRows)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"source":       src.ID(),
		"matrix":       model,
		"row_count":    model.RowCount(),
		"column_count": model.ColumnCount(),
		"max_rows":     maxRows,
	})
}
