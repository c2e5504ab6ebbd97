package controllers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/datallboy/gonzbd/internal/app"
	"github.com/datallboy/gonzbd/internal/nzb"
	"github.com/labstack/echo/v5"
)

type QueueController struct {
	App *app.Context
}

// List returns the pending queue in current order.
func (ctrl *QueueController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, QueueResponse{
		OK:     true,
		Paused: ctrl.App.Queue.Paused(),
		Queue:  ctrl.App.Queue.Listing(),
	})
}

// Enqueue accepts either a local path (?path=) or a manifest uploaded
// in the request body (?name= for the file name). Uploads stage
// through the temp dir; Enqueue copies them into the queue dir.
func (ctrl *QueueController) Enqueue(c *echo.Context) error {
	atFront := c.QueryParam("front") == "true"

	path := c.QueryParam("path")
	var staged string
	if path == "" {
		name := c.QueryParam("name")
		if name == "" || !nzb.IsManifest(name) {
			return c.JSON(http.StatusBadRequest, OpResponse{
				OK: false, Reason: "name query parameter must be a .nzb file name",
			})
		}
		staged = filepath.Join(ctrl.App.Config.Dirs.Temp, filepath.Base(name))
		if err := ctrl.stageUpload(c.Request().Body, staged); err != nil {
			return c.JSON(http.StatusInternalServerError, OpResponse{
				OK: false, Reason: err.Error(),
			})
		}
		defer os.Remove(staged)
		path = staged
	}

	id, err := ctrl.App.Queue.Enqueue(path, atFront)
	if err != nil {
		status := http.StatusBadRequest
		if err == nzb.ErrDuplicate {
			status = http.StatusConflict
		}
		return c.JSON(status, OpResponse{OK: false, Reason: err.Error()})
	}
	return c.JSON(http.StatusOK, OpResponse{OK: true, ID: id})
}

func (ctrl *QueueController) stageUpload(body io.ReadCloser, dest string) error {
	defer body.Close()
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	return f.Close()
}

// Dequeue removes one or more comma-separated ids.
func (ctrl *QueueController) Dequeue(c *echo.Context) error {
	var ids []int64
	for _, raw := range strings.Split(c.Param("ids"), ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, OpResponse{
				OK: false, Reason: "invalid id: " + raw,
			})
		}
		ids = append(ids, id)
	}

	ok, err := ctrl.App.Queue.DequeueByIDs(ids)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, OpResponse{
			OK: ok, Reason: err.Error(),
		})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, OpResponse{
			OK: false, Reason: "one or more ids were unknown",
		})
	}
	return c.JSON(http.StatusOK, OpResponse{OK: true})
}

func (ctrl *QueueController) MoveToFront(c *echo.Context) error {
	return ctrl.move(c, func(id int64) (bool, error) {
		return ctrl.App.Queue.MoveToFront(id)
	})
}

func (ctrl *QueueController) MoveToBack(c *echo.Context) error {
	return ctrl.move(c, func(id int64) (bool, error) {
		return ctrl.App.Queue.MoveToBack(id)
	})
}

func (ctrl *QueueController) MoveToIndex(c *echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, OpResponse{
			OK: false, Reason: "invalid index",
		})
	}
	return ctrl.move(c, func(id int64) (bool, error) {
		return ctrl.App.Queue.MoveToIndex(id, index)
	})
}

func (ctrl *QueueController) MoveUp(c *echo.Context) error {
	shift := shiftParam(c)
	return ctrl.move(c, func(id int64) (bool, error) {
		return ctrl.App.Queue.MoveRelative(id, shift, false)
	})
}

func (ctrl *QueueController) MoveDown(c *echo.Context) error {
	shift := shiftParam(c)
	return ctrl.move(c, func(id int64) (bool, error) {
		return ctrl.App.Queue.MoveRelative(id, shift, true)
	})
}

func (ctrl *QueueController) move(c *echo.Context, op func(int64) (bool, error)) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, OpResponse{
			OK: false, Reason: "invalid id",
		})
	}

	ok, err := op(id)
	if err != nil {
		status := http.StatusInternalServerError
		if err == nzb.ErrUnknownID {
			status = http.StatusNotFound
		}
		return c.JSON(status, OpResponse{OK: false, Reason: err.Error()})
	}
	if !ok {
		return c.JSON(http.StatusConflict, OpResponse{
			OK: false, Reason: "move would cross the queue boundary",
		})
	}
	return c.JSON(http.StatusOK, OpResponse{OK: true})
}

func (ctrl *QueueController) Pause(c *echo.Context) error {
	ctrl.App.Queue.Pause()
	return c.JSON(http.StatusOK, OpResponse{OK: true})
}

func (ctrl *QueueController) Resume(c *echo.Context) error {
	ctrl.App.Queue.Resume()
	return c.JSON(http.StatusOK, OpResponse{OK: true})
}

func (ctrl *QueueController) History(c *echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := ctrl.App.Store.RecentEvents(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, OpResponse{
			OK: false, Reason: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, HistoryResponse{OK: true, Events: events})
}

func shiftParam(c *echo.Context) int {
	shift, err := strconv.Atoi(c.QueryParam("shift"))
	if err != nil || shift <= 0 {
		return 1
	}
	return shift
}
