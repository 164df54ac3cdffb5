package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// ErrorStatus 将哨兵错误映射到HTTP状态码
type ErrorStatus struct {
	Err    error
	Status int
}

// StatusFor 返回第一个匹配 err 的状态码，未匹配时为 500
func StatusFor(err error, statuses []ErrorStatus) int {
	for _, s := range statuses {
		if errors.Is(err, s.Err) {
			return s.Status
		}
	}
	return http.StatusInternalServerError
}

// RespondErrorFor 按映射表选择状态码发送错误响应，服务端错误会记录日志
func RespondErrorFor(w http.ResponseWriter, err error, statuses []ErrorStatus) {
	status := StatusFor(err, statuses)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	RespondError(w, status, err.Error())
}
