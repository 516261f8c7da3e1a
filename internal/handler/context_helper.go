package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID names the acting user. Authentication happens upstream.
const HeaderUserID = "X-User-ID"

func actorFromContext(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
