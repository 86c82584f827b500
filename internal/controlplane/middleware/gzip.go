package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// progress polling is frequent and tiny, not worth compressing
var excludedPaths = []string{
	"/v1/progress",
}

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
