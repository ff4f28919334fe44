package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all REST routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, logger *log.Logger) {
	e.GET("/healthz", healthz())

	e.GET("/api/boards", listBoards(store, auth))
	e.POST("/api/boards", createBoard(store, auth))
	e.GET("/api/boards/:id", getBoard(store, auth))
	e.PUT("/api/boards/:id", updateBoard(store, auth))
	e.DELETE("/api/boards/:id", deleteBoard(store, auth))

	e.GET("/api/tasks/:boardId", listTasks(store, auth, logger))
	e.POST("/api/tasks", createTask(store, auth))
	e.PUT("/api/tasks/:id", updateTask(store, auth))
	e.DELETE("/api/tasks/:id", deleteTask(store, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	return dec.Decode(v)
}

func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"msg": "not found"})
	case errors.Is(err, domain.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"msg": "access denied"})
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func listBoards(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boards, err := store.ListBoards(ctx, userID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func createBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var draft domain.BoardDraft
		if err := decodeBody(c, &draft); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := draft.Normalize(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"msg": err.Error()})
		}
		board := domain.NewBoard(uuid.NewString(), draft, userID, time.Now().UTC())
		created, err := store.CreateBoard(ctx, board)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, created)
	}
}

func getBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		board, err := store.FindBoard(ctx, c.Param("id"))
		if err != nil {
			return httpError(c, err)
		}
		if !board.HasMember(userID) {
			return httpError(c, domain.ErrAccessDenied)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func updateBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		board, err := store.FindBoard(ctx, c.Param("id"))
		if err != nil {
			return httpError(c, err)
		}
		if board.Owner != userID {
			return httpError(c, domain.ErrAccessDenied)
		}
		var patch domain.BoardPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := patch.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"msg": err.Error()})
		}
		updated, err := store.UpdateBoardFields(ctx, board.ID, patch)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		board, err := store.FindBoard(ctx, c.Param("id"))
		if err != nil {
			return httpError(c, err)
		}
		if board.Owner != userID {
			return httpError(c, domain.ErrAccessDenied)
		}
		if err := store.DeleteBoard(ctx, board.ID); err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"msg": "board removed"})
	}
}

func listTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("boardId")
		if _, findErr := store.FindBoard(ctx, boardID); findErr != nil {
			metrics.SetErrorStage("board_lookup")
			err = httpError(c, findErr)
			return err
		}
		_ = userID

		fetchStart := time.Now()
		tasks, fetchErr := store.ListTasks(ctx, boardID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = httpError(c, fetchErr)
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var draft domain.TaskDraft
		if err := decodeBody(c, &draft); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := draft.Normalize(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"msg": err.Error()})
		}
		if _, err := store.FindBoard(ctx, draft.BoardID); err != nil {
			return httpError(c, err)
		}

		// Append: position is one past the column's current maximum.
		last, err := store.LastInColumn(ctx, draft.BoardID, draft.Status)
		if err != nil {
			return httpError(c, err)
		}
		now := time.Now().UTC()
		task := domain.Task{
			ID:          uuid.NewString(),
			Title:       draft.Title,
			Description: draft.Description,
			Status:      draft.Status,
			Priority:    draft.Priority,
			BoardID:     draft.BoardID,
			AssignedTo:  userID,
			Tags:        draft.Tags,
			Position:    domain.NextPosition(last),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := store.CreateTask(ctx, task)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, created)
	}
}

func updateTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := patch.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"msg": err.Error()})
		}
		updated, err := store.UpdateTaskFields(ctx, c.Param("id"), patch)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")
		if err := store.DeleteTask(ctx, id); err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"msg": "task removed", "id": id})
	}
}
