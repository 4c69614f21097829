package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmirror/domain"
	"taskmirror/identity"
)

const requestBodyMaxSize = 64 * 1024

// Register wires up all mirror routes on the provided Echo instance.
func Register(e *echo.Echo, mirror Mirror, session Session, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(mirror, logger))
	e.POST("/api/tasks", postTask(mirror))
	e.PUT("/api/tasks/:id/done", putTaskDone(mirror))
	e.DELETE("/api/tasks/:id", deleteTask(mirror))
	e.GET("/stream", streamTasks(mirror))
	e.POST("/api/session", postSession(session))
	e.DELETE("/api/session", deleteSession(session))
	e.GET("/healthz", healthz(mirror))
}

func healthz(mirror Mirror) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{
			State: mirror.State().String(),
			Live:  mirror.Live(),
		}
		if err := mirror.LastError(); err != nil {
			resp.Error = err.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getTasks(mirror Mirror, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		snapStart := time.Now()
		tasks := mirror.Snapshot()
		metrics.ObserveSnapshot(time.Since(snapStart))
		metrics.SetTasksReturned(len(tasks))
		metrics.SetLive(mirror.Live())

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(mirror Mirror) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req createTaskRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		if err := mirror.CreateTask(c.Request().Context(), req.Content); err != nil {
			return mutationError(c, err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func putTaskDone(mirror Mirror) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.String(http.StatusBadRequest, "missing task id")
		}

		lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req setDoneRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		if err := mirror.SetDone(c.Request().Context(), id, req.Done); err != nil {
			return mutationError(c, err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func deleteTask(mirror Mirror) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.String(http.StatusBadRequest, "missing task id")
		}
		if err := mirror.DeleteTask(c.Request().Context(), id); err != nil {
			return mutationError(c, err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func postSession(session Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req sessionRequest
		// an empty body is fine, the token may arrive via the Authorization header
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Token == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				return c.String(http.StatusBadRequest, "missing token")
			}
			var err error
			req.Token, err = identity.TokenFromAuthHeader(auth)
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}

		owner, err := session.Set(req.Token)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, sessionResponse{Owner: owner})
	}
}

func deleteSession(session Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		session.Clear()
		return c.NoContent(http.StatusNoContent)
	}
}

func streamTasks(mirror Mirror) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch, unsubscribe := mirror.Watch()
		defer unsubscribe()
		for {
			data, err := sonic.Marshal(mirror.Snapshot())
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				c.Logger().Error(err)
				return err
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}

func mutationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyContent):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return c.String(http.StatusUnauthorized, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusBadGateway, err.Error())
	}
}
