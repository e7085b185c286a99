package api

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/presence"
)

type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type updateBroker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *updateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *updateBroker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Register wires up board endpoints on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, auth Authenticator) {
	g := e.Group("/boards/:id")
	g.GET("", getBoard(hub, auth))
	g.GET("/stream", streamBoard(hub, auth))
	g.POST("/changes", postChange(hub, auth))
	g.POST("/cards/:cardID/move", moveCard(hub, auth))
	g.POST("/columns/:columnID/move", moveColumn(hub, auth))
	g.GET("/presence", getPresence(hub, auth))
	g.POST("/presence", postPresence(hub, auth))
	g.DELETE("/presence", leavePresence(hub, auth))
	g.POST("/typing", postTyping(hub, auth))
}

// authUser resolves the caller. SSE clients cannot set headers, so a
// token query parameter stands in for the Authorization header there.
func authUser(c echo.Context, auth Authenticator) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	return auth.UserIDFromAuthHeader(authHeader)
}

func session(c echo.Context, hub *Hub) (*Session, error) {
	return hub.Session(c.Request().Context(), c.Param("id"))
}

func getBoard(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		data, err := sonic.Marshal(sess.Store.Tree())
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

type streamPayload struct {
	Tree    domain.BoardTree    `json:"tree"`
	Present []presence.Entry    `json:"present"`
	Typing  map[string][]string `json:"typing,omitempty"`
}

func streamBoard(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := sess.broker.subscribe()
		defer sess.broker.unsubscribe(ch)
		for {
			tree := sess.Store.Tree()
			payload := streamPayload{
				Tree:    tree,
				Present: sess.Tracker.Present(),
				Typing:  typingByCard(sess.Tracker, tree),
			}
			data, err := sonic.Marshal(payload)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
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

func postChange(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		var change domain.Change
		if err := sonic.Unmarshal(body, &change); err != nil {
			return c.String(http.StatusBadRequest, "bad change payload")
		}
		if change.Op == domain.OpInsert && change.EntityID == "" {
			change.EntityID = uuid.NewString()
		}
		if err := sess.Coordinator.Do(c.Request().Context(), change); err != nil {
			var ve domain.ValidationError
			if errors.As(err, &ve) {
				return c.String(http.StatusBadRequest, ve.Error())
			}
			c.Logger().Error(err)
			return c.NoContent(http.StatusBadGateway)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"id": change.EntityID})
	}
}

func moveCard(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		var req struct {
			ColumnID string `json:"columnId"`
			Index    int    `json:"index"`
		}
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if err := sess.Engine.MoveCard(c.Request().Context(), c.Param("cardID"), req.ColumnID, req.Index); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func moveColumn(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		var req struct {
			Index int `json:"index"`
		}
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if err := sess.Engine.MoveColumn(c.Request().Context(), c.Param("columnID"), req.Index); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func getPresence(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authUser(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sess, err := session(c, hub)
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, map[string]any{"present": sess.Tracker.Present()})
	}
}

func postPresence(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if _, err := session(c, hub); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		var req struct {
			ColumnID string `json:"columnId"`
			CardID   string `json:"cardId"`
		}
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		ev := presence.Event{
			Kind:     presence.EventUpdate,
			UserID:   userID,
			BoardID:  c.Param("id"),
			ColumnID: req.ColumnID,
			CardID:   req.CardID,
		}
		if err := hub.Broadcast(c.Request().Context(), c.Param("id"), ev); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusBadGateway)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func leavePresence(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if _, err := session(c, hub); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		ev := presence.Event{
			Kind:    presence.EventLeave,
			UserID:  userID,
			BoardID: c.Param("id"),
		}
		if err := hub.Broadcast(c.Request().Context(), c.Param("id"), ev); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusBadGateway)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func postTyping(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if _, err := session(c, hub); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusNotFound)
		}
		var req struct {
			CardID string `json:"cardId"`
		}
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if req.CardID == "" {
			return c.String(http.StatusBadRequest, "missing card id")
		}
		ev := presence.Event{
			Kind:    presence.EventTyping,
			UserID:  userID,
			BoardID: c.Param("id"),
			CardID:  req.CardID,
		}
		if err := hub.Broadcast(c.Request().Context(), c.Param("id"), ev); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusBadGateway)
		}
		return c.NoContent(http.StatusAccepted)
	}
}
