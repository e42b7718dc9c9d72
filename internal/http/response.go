package http

import "github.com/gin-gonic/gin"

const (
	msgUserCreated    = "User successfully created"
	msgUserExists     = "User already exists"
	msgUserUpdated    = "User successfully updated"
	msgNoUser         = "No user found"
	msgUserFound      = "User found successfully"
	msgUserDeleted    = "User deleted successfully"
	msgAddressCreated = "User address inserted successfully"
	msgAddressList    = "Address list"
	msgInvalidRequest = "Invalid request"
	msgNothingToPatch = "Nothing to update"
	msgInternalError  = "Internal server error"
	msgTooManyRequest = "Too many requests"
)

type successEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, successEnvelope{Success: true, Data: data, Message: message})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Success: false, Message: message})
}
