package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// bodyCacheWriter is a custom gin.ResponseWriter that intercepts and buffers the response body.
// This allows the ETag middleware to calculate a hash of the body before it's sent to the client.
// bodyCacheWriter 是一个自定义的 gin.ResponseWriter，用于拦截和缓冲响应正文。
type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCacheWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bodyCacheWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// ETagCache returns a Gin middleware that implements ETag-based HTTP caching for GET requests.
// It hashes successful response bodies into an ETag and answers a matching If-None-Match with 304.
// maxAge bounds how long clients may reuse the body without revalidating.
// ETagCache 返回一个为 GET 请求实现基于 ETag 的 HTTP 缓存的 Gin 中间件。
// 如果 If-None-Match 与正文哈希匹配，则返回 304 Not Modified。
func ETagCache(maxAge time.Duration) gin.HandlerFunc {
	cacheControl := fmt.Sprintf("public, max-age=%d, must-revalidate", int(maxAge.Seconds()))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		bcw := &bodyCacheWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = bcw
		c.Next()
		c.Writer = bcw.ResponseWriter

		responseBody := bcw.body.Bytes()
		if c.Writer.Status() == http.StatusOK && len(responseBody) > 0 {
			hash := sha256.Sum256(responseBody)
			etag := fmt.Sprintf(`"%x"`, hash)

			c.Header("ETag", etag)
			c.Header("Cache-Control", cacheControl)
			if c.GetHeader("If-None-Match") == etag {
				c.Status(http.StatusNotModified)
				c.Writer.WriteHeaderNow()
				return
			}
		}

		_, _ = c.Writer.Write(responseBody)
	}
}
