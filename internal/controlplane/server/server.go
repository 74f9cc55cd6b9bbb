package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/auth"
	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/logstream"
	"github.com/betbot/botvisor/internal/ports"
	"github.com/betbot/botvisor/internal/supervisor"
)

// Lifecycle is the supervisor surface the control plane drives.
type Lifecycle interface {
	Start(ctx context.Context, botID int64) (int, error)
	Stop(ctx context.Context, botID int64) error
	Restart(ctx context.Context, botID int64) (int, error)
	Status(ctx context.Context, botID int64) (*supervisor.BotState, error)
	StatusAll(ctx context.Context) ([]supervisor.BotState, error)
}

// LogFeed is the log streamer surface the control plane serves.
type LogFeed interface {
	SinkPath(ctx context.Context, botID int64) (string, error)
	Tail(ctx context.Context, botID int64, n int) ([]domain.LogEntry, error)
	Stream(ctx context.Context, botID int64, sub logstream.Subscriber) error
}

type Config struct {
	LogsDir        string        // 新建 bot 未指定 log_path 时的默认目录
	RequestTimeout time.Duration // 非流式请求的存储超时
	StopTimeout    time.Duration // stop/restart 请求的总超时（需大于 grace period）
	WSPingInterval time.Duration
	Debug          bool // gin debug 模式
}

type Server struct {
	cfg      Config
	sup      Lifecycle
	bots     ports.BotCatalog
	logs     ports.LogStore
	feed     LogFeed
	auth     *auth.Authenticator
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func New(cfg Config, sup Lifecycle, bots ports.BotCatalog, logs ports.LogStore, feed LogFeed, authn *auth.Authenticator, log *logrus.Entry) (*Server, error) {
	if sup == nil || bots == nil || feed == nil {
		return nil, errors.New("supervisor, bot store and log feed are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.WSPingInterval <= 0 {
		cfg.WSPingInterval = logstream.DefaultKeepAlive
	}
	if authn == nil {
		authn = auth.New("", "")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if !authn.Enabled() {
		log.Warn("auth secret not configured: control plane accepts unauthenticated requests")
	}
	return &Server{
		cfg:  cfg,
		sup:  sup,
		bots: bots,
		logs: logs,
		feed: feed,
		auth: authn,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// token 已经在 query 中校验过
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) Router() http.Handler {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	api := r.Group("/api")

	// 推送通道：浏览器 EventSource / WebSocket 带不了 header，token 走 query
	stream := api.Group("/bots/:botID/logs", s.requireQueryToken())
	stream.GET("/stream", s.wrap(s.handleBotLogsStream))
	stream.GET("/ws", s.wrap(s.handleBotLogsWS))

	authed := api.Group("", s.requireBearer())
	bots := authed.Group("/bots")
	bots.GET("/", s.wrap(s.handleBotsList))
	bots.POST("/", s.wrap(s.handleBotsCreate))
	botID := bots.Group("/:botID")
	botID.GET("", s.wrap(s.handleBotGet))
	botID.DELETE("", s.wrap(s.handleBotDelete))
	botID.POST("/start", s.wrap(s.handleBotStart))
	botID.POST("/stop", s.wrap(s.handleBotStop))
	botID.POST("/restart", s.wrap(s.handleBotRestart))
	botID.GET("/status", s.wrap(s.handleBotStatus))
	botID.GET("/logs", s.wrap(s.handleBotLogsPage))
	botID.GET("/logs/tail", s.wrap(s.handleBotLogsTail))

	return r
}

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}
