package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"botstudio/server/internal/auth"
	"botstudio/server/internal/notifier"
)

// handleStreamModified 推送 responses_modified 事件流。
func (s *Server) handleStreamModified(c *gin.Context) {
	s.serveStream(c, notifier.ResponsesModified)
}

// handleStreamDeleted 推送 response_deleted 事件流。
func (s *Server) handleStreamDeleted(c *gin.Context) {
	s.serveStream(c, notifier.ResponseDeleted)
}

// serveStream 把一条 WebSocket 连接接到广播总线上。
// 总线不持久化：连接建立之前发布的事件永远收不到，
// 客户端重连后要自行全量拉取补齐。
func (s *Server) serveStream(c *gin.Context, kind notifier.Kind) {
	projectID := c.Param("projectId")

	// 订阅也过授权门：没有读权限就不给开流。
	if err := s.gate.CheckIfCan(c.Request.Context(), auth.CapResponsesRead, projectID); err != nil {
		writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] ❌ upgrade websocket failed: %v", err)
		return
	}
	log.Printf("[API] 📡 stream opened: project=%s kind=%s", projectID, kind)

	events, cancel := s.notifier.Subscribe(projectID, kind)
	defer cancel()

	// 读泵只为感知断开，收到的消息一律丢弃。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingInterval := s.config.Stream.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("[API] stream write failed: project=%s err=%v", projectID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			log.Printf("[API] 🔌 stream closed by client: project=%s kind=%s", projectID, kind)
			return
		}
	}
}
