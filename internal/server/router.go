package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/compat"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/profile"
	"github.com/loykin/craftd/internal/progress"
	"github.com/loykin/craftd/internal/supervisor"
)

// Backend is what the API drives. craftd.App implements it.
type Backend interface {
	Status() supervisor.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SendCommand(line string) error
	Console() *supervisor.Console
	Versions(ctx context.Context) []string
	Fetch(ctx context.Context, version, target string, overwrite bool, report progress.Func) (artifact.FetchResult, error)
	Compat(ctx context.Context, version string) compat.Report
	Advise(ctx context.Context, next string) compat.Advice
	ListProfiles() []profile.Profile
	CurrentProfile() profile.Profile
	UseProfile(ref string) (profile.Profile, error)
	Resources() (metrics.Sample, bool)
}

// Options configures a Router.
type Options struct {
	// BasePath prefixes every API route; "/api" gives /api/status.
	BasePath string
	// TokenHash, when set, is a bcrypt hash every request's bearer token
	// must match.
	TokenHash string
	// Metrics mounts promhttp at /metrics (outside BasePath).
	Metrics bool
	// ConsoleBacklog is how many past lines a console client receives first.
	ConsoleBacklog int
	// FetchRoot, when set, confines the "to" path of /fetch to this tree.
	FetchRoot string
}

// Router provides embeddable HTTP handlers for one supervised server.
// Endpoints, relative to BasePath:
//
//	GET  /status
//	POST /start, /stop, /restart
//	POST /command            body: {"command": "say hi"}
//	GET  /versions
//	POST /fetch              body: {"version": "1.21.1", "overwrite": true, "to": "/abs/server.jar"}
//	GET  /compat?version=v
//	GET  /advise?version=v
//	GET  /profiles
//	POST /profiles/current   body: {"profile": "<id or name>"}
//	GET  /console            websocket
type Router struct {
	backend  Backend
	basePath string
	opts     Options
}

func NewRouter(b Backend, opts Options) *Router {
	if opts.ConsoleBacklog <= 0 {
		opts.ConsoleBacklog = 100
	}
	return &Router{backend: b, basePath: sanitizeBase(opts.BasePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	if r.opts.TokenHash != "" {
		group.Use(tokenAuth(r.opts.TokenHash))
	}
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/command", r.handleCommand)
	group.GET("/versions", r.handleVersions)
	group.POST("/fetch", r.handleFetch)
	group.GET("/compat", r.handleCompat)
	group.GET("/advise", r.handleAdvise)
	group.GET("/profiles", r.handleProfiles)
	group.POST("/profiles/current", r.handleUseProfile)
	group.GET("/console", r.handleConsole)
	return g
}

// NewServer builds an http.Server for this router; the caller runs it.
func NewServer(addr string, b Backend, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(b, opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// detached keeps lifecycle operations alive when the client goes away; a
// cancelled Stop would otherwise turn into a forced kill.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

type statusResp struct {
	supervisor.Status
	Resources *metrics.Sample `json:"resources,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Status: r.backend.Status()}
	if s, ok := r.backend.Resources(); ok && resp.Running {
		resp.Resources = &s
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) lifecycle(c *gin.Context, fn func(context.Context) error) {
	if err := fn(detached(c)); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.backend.Status())
}

func (r *Router) handleStart(c *gin.Context)   { r.lifecycle(c, r.backend.Start) }
func (r *Router) handleStop(c *gin.Context)    { r.lifecycle(c, r.backend.Stop) }
func (r *Router) handleRestart(c *gin.Context) { r.lifecycle(c, r.backend.Restart) }

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if err := r.backend.SendCommand(req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleVersions(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"versions": r.backend.Versions(c.Request.Context())})
}

type fetchReq struct {
	Version   string `json:"version"`
	Overwrite bool   `json:"overwrite"`
	To        string `json:"to"`
}

func (r *Router) handleFetch(c *gin.Context) {
	var req fetchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "version required"})
		return
	}
	if !isSafeAbsPath(req.To) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid to: must be absolute path without traversal"})
		return
	}
	if req.To != "" && r.opts.FetchRoot != "" && !isWithin(r.opts.FetchRoot, req.To) {
		writeJSON(c, http.StatusForbidden, errorResp{Error: "invalid to: must be under " + r.opts.FetchRoot})
		return
	}
	res, err := r.backend.Fetch(c.Request.Context(), req.Version, req.To, req.Overwrite, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleCompat(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.backend.Compat(c.Request.Context(), c.Query("version")))
}

func (r *Router) handleAdvise(c *gin.Context) {
	v := c.Query("version")
	if v == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "version query param required"})
		return
	}
	writeJSON(c, http.StatusOK, r.backend.Advise(c.Request.Context(), v))
}

type profilesResp struct {
	Current  string            `json:"current"`
	Profiles []profile.Profile `json:"profiles"`
}

func (r *Router) handleProfiles(c *gin.Context) {
	writeJSON(c, http.StatusOK, profilesResp{
		Current:  r.backend.CurrentProfile().ID,
		Profiles: r.backend.ListProfiles(),
	})
}

type useProfileReq struct {
	Profile string `json:"profile"`
}

func (r *Router) handleUseProfile(c *gin.Context) {
	var req useProfileReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Profile) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "profile required"})
		return
	}
	p, err := r.backend.UseProfile(req.Profile)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
