package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bodyCacheWriter buffers the response body so its hash can be computed before it is sent.
type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

// ETag answers conditional GETs of admin listings (key status, key events) with
// 304 when the body has not changed. Responses stay private to the caller.
// ETag 对管理端列表的条件 GET 在内容未变化时返回 304，响应仅限调用方私有缓存。
func ETag() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		bcw := &bodyCacheWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = bcw
		c.Next()

		body := bcw.body.Bytes()
		if c.Writer.Status() == http.StatusOK && len(body) > 0 {
			etag := fmt.Sprintf(`"%x"`, sha256.Sum256(body))
			c.Header("Cache-Control", "private, no-cache")
			c.Header("ETag", etag)
			if c.GetHeader("If-None-Match") == etag {
				c.Status(http.StatusNotModified)
				bcw.ResponseWriter.WriteHeaderNow()
				return
			}
		}
		_, _ = bcw.ResponseWriter.Write(body)
	}
}
