package dto

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

// SendError renders err with the status its code maps to. Internal errors are rendered
// generically; a rate limit error also sets the Retry-After header in whole seconds.
// SendError 按错误码对应的状态渲染错误。内部错误以通用信息返回；限流错误同时设置 Retry-After 头。
func SendError(c *gin.Context, err error) {
	status, body := errors.ToErrorResponse(err)
	if status == http.StatusTooManyRequests && body.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	c.AbortWithStatusJSON(status, body)
}

// SendSuccess writes data as the JSON body.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// SetSessionToken hands a re-issued session token back to the client in both the
// response header and the session cookie.
func SetSessionToken(c *gin.Context, token string, maxAgeSeconds int, secure bool) {
	if token == "" {
		return
	}
	c.Header(constants.SessionTokenHeader, token)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(constants.SessionCookieName, token, maxAgeSeconds, "/", "", secure, true)
}

//Personal.AI order the ending
