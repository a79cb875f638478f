package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096
)

type Authenticator interface {
	SubjectFromHeader(string) (string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Register wires up the socket endpoint on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, auth Authenticator) {
	e.GET("/ws", serveSocket(hub, auth))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]int{"clients": hub.Len()})
	})
}

func serveSocket(hub *Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		subject, err := auth.SubjectFromHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied
			return nil
		}
		cl := newClient()
		logger := log.WithFields(log.Fields{"client": cl.id, "sub": subject})
		for _, ch := range strings.Split(c.QueryParam("channels"), ",") {
			joinChannel(cl, strings.TrimSpace(ch), logger)
		}
		hub.add(cl)
		logger.Debug("client connected")

		go writePump(ws, cl, logger)
		readPump(ws, cl, logger)
		hub.remove(cl)
		logger.Debug("client disconnected")
		return nil
	}
}

func joinChannel(cl *client, name string, logger *log.Entry) {
	if name == "" {
		return
	}
	if _, err := domain.KindByName(name); err != nil {
		logger.WithError(err).Warn("join rejected")
		return
	}
	cl.join(name)
}

func readPump(ws *websocket.Conn, cl *client, logger *log.Entry) {
	defer cl.close()
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		op, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("read failed")
			}
			return
		}
		if op != websocket.TextMessage {
			continue
		}
		var f domain.Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			logger.WithError(err).Warn("invalid frame")
			continue
		}
		var name string
		if err := sonic.Unmarshal(f.Data, &name); err != nil {
			logger.WithField("event", f.Event).Warn("frame data is not a channel name")
			continue
		}
		switch f.Event {
		case domain.FrameJoin:
			joinChannel(cl, name, logger)
		case domain.FrameLeave:
			cl.leave(name)
		default:
			logger.WithField("event", f.Event).Debug("ignored frame")
		}
	}
}

func writePump(ws *websocket.Conn, cl *client, logger *log.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case <-cl.done:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-cl.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					logger.WithError(err).Debug("write failed")
				}
				cl.close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				return
			}
		}
	}
}
