package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/msgvault/msgvault/internal/app"
	"github.com/msgvault/msgvault/internal/domain"
)

type TasksController struct {
	App *app.Context
}

// List returns the merged contents of both queues.
func (ctrl *TasksController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.App.Manager.AllTasks())
}

func (ctrl *TasksController) AddUploads(c *echo.Context) error {
	var req AddUploadsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Uploads) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no uploads given"})
	}

	reqs := make([]domain.UploadRequest, 0, len(req.Uploads))
	for _, u := range req.Uploads {
		reqs = append(reqs, domain.UploadRequest{
			Name:      u.Name,
			Size:      u.Size,
			SourceURI: u.SourceURI,
			MediaType: u.MediaType,
			ChunkSize: u.ChunkSize,
		})
	}

	tasks, err := ctrl.App.Manager.AddUploadTasks(c.Request().Context(), reqs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, EnqueuedResponse{TaskIDs: taskIDs(tasks)})
}

func (ctrl *TasksController) AddDownloads(c *echo.Context) error {
	var req AddDownloadsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Downloads) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no downloads given"})
	}

	reqs := make([]domain.DownloadRequest, 0, len(req.Downloads))
	for _, d := range req.Downloads {
		reqs = append(reqs, domain.DownloadRequest{
			Name:         d.Name,
			Size:         d.Size,
			RemoteFileID: d.RemoteFileID,
			TargetPath:   d.TargetPath,
		})
	}

	tasks, err := ctrl.App.Manager.AddDownloadTasks(c.Request().Context(), reqs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, EnqueuedResponse{TaskIDs: taskIDs(tasks)})
}

// Pause, Resume and Cancel are no-ops for unknown ids by the queue
// contract, so they always answer 204.
func (ctrl *TasksController) Pause(c *echo.Context) error {
	ctrl.App.Manager.PauseTask(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *TasksController) Resume(c *echo.Context) error {
	ctrl.App.Manager.ResumeTask(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *TasksController) Cancel(c *echo.Context) error {
	ctrl.App.Manager.CancelTask(c.Request().Context(), c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func taskIDs(tasks []*domain.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
