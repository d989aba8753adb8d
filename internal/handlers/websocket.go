package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterWebSocket mounts the notification hub at /ws
func RegisterWebSocket(e *echo.Echo, hub http.Handler) {
	e.GET("/ws", echo.WrapHandler(hub))
}
