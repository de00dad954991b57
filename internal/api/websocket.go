// internal/api/websocket.go
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 与HTTP层的CORS策略保持一致
		return true
	},
}

// WebSocketHandler 处理流式对话连接
//
// 每个连接绑定一个项目。客户端发送 {message, focused}，服务端以
// {type:"delta"} 逐块推送模型文本，回合结束发送 {type:"done"}；
// 流式路径不携带工具调用。
type WebSocketHandler struct {
	ChatService *services.ChatService

	mu          sync.Mutex
	connections map[*websocket.Conn]string // conn -> projectID
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatService *services.ChatService) *WebSocketHandler {
	return &WebSocketHandler{
		ChatService: chatService,
		connections: make(map[*websocket.Conn]string),
	}
}

// wsInbound 客户端消息
type wsInbound struct {
	Message string                `json:"message"`
	Focused *models.FocusedEntity `json:"focused,omitempty"`
}

// wsOutbound 服务端消息
type wsOutbound struct {
	Type    string `json:"type"` // delta | done | error
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChatWebSocket 升级连接并进入对话循环
func (h *WebSocketHandler) ChatWebSocket(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少项目ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Errorf("WebSocket升级失败: %v", err)
		return
	}

	h.register(conn, projectID)
	defer h.unregister(conn)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	stop := make(chan struct{})
	go h.pingLoop(conn, stop)
	defer close(stop)

	for {
		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Warnf("WebSocket异常断开: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if strings.TrimSpace(inbound.Message) == "" {
			h.writeJSON(conn, wsOutbound{Type: "error", Message: "消息内容不能为空"})
			continue
		}

		h.streamTurn(c, conn, projectID, inbound)
	}
}

// streamTurn 处理一个流式回合
func (h *WebSocketHandler) streamTurn(c *gin.Context, conn *websocket.Conn, projectID string, inbound wsInbound) {
	stream, err := h.ChatService.StreamMessage(c.Request.Context(), projectID, inbound.Message, inbound.Focused)
	if err != nil {
		h.writeJSON(conn, wsOutbound{Type: "error", Message: err.Error()})
		return
	}

	var full strings.Builder
	for chunk := range stream {
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if err := h.writeJSON(conn, wsOutbound{Type: "delta", Text: chunk.Text}); err != nil {
				return
			}
		}
		if chunk.Done {
			break
		}
	}

	h.ChatService.RecordAssistantText(projectID, full.String())
	h.writeJSON(conn, wsOutbound{Type: "done"})
}

// pingLoop 周期性发送ping保活
func (h *WebSocketHandler) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *WebSocketHandler) writeJSON(conn *websocket.Conn, message wsOutbound) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(message)
}

func (h *WebSocketHandler) register(conn *websocket.Conn, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = projectID
}

func (h *WebSocketHandler) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
	conn.Close()
}

// Status 返回当前连接状态（调试用）
func (h *WebSocketHandler) Status() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	perProject := make(map[string]int)
	for _, projectID := range h.connections {
		perProject[projectID]++
	}
	return map[string]interface{}{
		"total_connections": len(h.connections),
		"per_project":       perProject,
	}
}
