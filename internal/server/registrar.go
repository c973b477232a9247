package server

import "github.com/gin-gonic/gin"

// Registrar is implemented by every service that exposes HTTP endpoints.
// The server only knows how to mount registrars, never individual routes.
type Registrar interface {
	Register(e *gin.Engine)
}
