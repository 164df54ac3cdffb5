package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/consult-chat/backend/internal/service/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
	"github.com/zhouzirui/consult-chat/backend/internal/service/lifecycle"
	"github.com/zhouzirui/consult-chat/backend/internal/service/reconnect"
	"github.com/zhouzirui/consult-chat/backend/pkg/utils"
)

// Handler 会话协调器的HTTP处理器
type Handler struct {
	coord *coordinator.Coordinator
}

// New 创建会话处理器
func New(coord *coordinator.Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleView)
	r.Get("/sessions", h.handleList)
	r.Post("/session/open", h.handleOpen)
	r.Post("/session/close", h.handleClose)
	r.Post("/session/history", h.handleHistory)
	r.Post("/session/transition", h.handleTransition)
	r.Post("/messages", h.handleSend)
	r.Post("/messages/options", h.handleSelectOption)
	r.Post("/reconnect/{choice}", h.handleReconnect)
}

// handleView 返回当前会话的视图
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.coord.View())
}

// handleList 返回会话目录
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": h.coord.Sessions()})
}

// handleOpen 打开会话
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload chat.Session
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.ID == "" {
		utils.RespondError(w, http.StatusBadRequest, "id is required")
		return
	}
	// 只传 id 时从会话目录中补全
	if known, ok := h.coord.Session(payload.ID); ok && payload.Participants == (chat.Participants{}) {
		payload = known
	}

	view, err := h.coord.OpenSession(payload)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleClose 关闭当前会话
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.coord.CloseSession()
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleHistory 用拉取到的历史记录替换当前日志
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string            `json:"sessionId"`
		Messages  []chat.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.coord.LoadHistory(payload.SessionID, payload.Messages); err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.coord.View())
}

// handleTransition 应用本地发起的生命周期事件
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var payload lifecycle.Event
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Kind == "" {
		utils.RespondError(w, http.StatusBadRequest, "kind is required")
		return
	}

	tr, err := h.coord.Transition(payload)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"from":    tr.From,
		"to":      tr.To,
		"changed": tr.Changed,
	})
}

// handleSend 发送本地消息
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.coord.SendLocal(payload.Text)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{
		"status":         "queued",
		"clientOriginId": msg.ClientOriginID,
	})
}

// handleSelectOption 选择自动流程菜单中的选项
func (h *Handler) handleSelectOption(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageKey string `json:"messageKey"`
		OptionID   string `json:"optionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.MessageKey == "" || payload.OptionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "messageKey and optionId are required")
		return
	}

	msg, err := h.coord.SelectOption(payload.MessageKey, payload.OptionID)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

// handleReconnect 回答重连提示
func (h *Handler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	choice := reconnect.Choice(chi.URLParam(r, "choice"))

	res, err := h.coord.ResolveReconnect(choice)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, res)
}

// errorStatuses 将协调器错误映射为HTTP状态码
var errorStatuses = []utils.ErrorStatus{
	{Err: coordinator.ErrEmptyMessage, Status: http.StatusBadRequest},
	{Err: reconnect.ErrUnknownChoice, Status: http.StatusBadRequest},
	{Err: chatService.ErrMessageNotFound, Status: http.StatusNotFound},
	{Err: chatService.ErrOptionNotFound, Status: http.StatusNotFound},
	{Err: coordinator.ErrNoSession, Status: http.StatusConflict},
	{Err: coordinator.ErrStaleSession, Status: http.StatusConflict},
	{Err: coordinator.ErrSessionClosed, Status: http.StatusConflict},
	{Err: reconnect.ErrNoPendingPrompt, Status: http.StatusConflict},
	{Err: lifecycle.ErrInvalidTransition, Status: http.StatusConflict},
}

func respondCoordinatorError(w http.ResponseWriter, err error) {
	utils.RespondErrorFor(w, err, errorStatuses)
}
