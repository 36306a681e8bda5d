package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/craftd/internal/errdefs"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeAbsPath ensures the provided path is absolute and does not contain traversal.
// An empty path is allowed and means "use the default".
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(p, sep)
	if trimmed == "" {
		trimmed = p // keep root like "/" on Unix
	}
	// Reject if cleaning changes more than just trailing separators
	return clean == p || clean == trimmed
}

// isWithin reports whether p lies strictly inside root.
func isWithin(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindNotFound:
		return http.StatusNotFound
	case errdefs.KindAlreadyRunning, errdefs.KindNotRunning, errdefs.KindInvalidOperation:
		return http.StatusConflict
	case errdefs.KindLocked:
		return http.StatusLocked
	case errdefs.KindRemoteResolutionFailed, errdefs.KindTransferFailed:
		return http.StatusBadGateway
	case errdefs.KindIncompatible:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	resp := errorResp{Error: err.Error()}
	if k := errdefs.KindOf(err); k != errdefs.KindUnknown {
		resp.Kind = k.String()
	}
	writeJSON(c, statusFor(err), resp)
}
