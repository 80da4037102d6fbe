package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events 把流规则事件以JSON推送给websocket客户端，直到客户端断开
func (fs *FlowService) Events(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	events, cancel := fs.broker.Subscribe()
	defer cancel()

	log := logrus.WithField("remote", c.Request().RemoteAddr)
	log.Debug("event subscriber connected")

	// 客户端不发送数据，读循环只用来感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Debug("event subscriber disconnected")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debugf("write event failed: %v", err)
				return nil
			}
		}
	}
}
