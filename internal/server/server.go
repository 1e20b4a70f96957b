package server

import (
	"backend-silksong/internal/auth"
	"backend-silksong/internal/config"
	"backend-silksong/internal/db"
	"backend-silksong/internal/events"
	"backend-silksong/internal/janitor"
	"backend-silksong/internal/posts"
	"backend-silksong/internal/storage"
	"backend-silksong/internal/stream"
	"backend-silksong/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Nats    *nats.Conn
	Stream  *stream.Hub
	Janitor *janitor.Janitor
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client, nc *nats.Conn) *Server {
	fiberCfg := fiber.Config{
		AppName:     "backend-silksong",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	}
	if cfg.MaxUploadBytes > 0 {
		fiberCfg.BodyLimit = cfg.MaxUploadBytes
	}
	app := fiber.New(fiberCfg)
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     pg,
		Redis:  redisClient,
		Nats:   nc,
		Stream: stream.NewHub(redisClient),
	}
	if pg != nil {
		s.Janitor = janitor.New(pg, cfg.OrphanBlobAge)
	}

	registerRoutes(s)
	return s
}

// Close stops background work started by NewServer.
func (s *Server) Close() {
	if s.Janitor != nil {
		s.Janitor.Stop()
	}
	if err := s.Stream.Close(); err != nil {
		log.Warn().Err(err).Msg("stream hub close failed")
	}
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	var querier db.Querier
	if s.DB != nil {
		querier = s.DB
	}

	authorCache, err := users.NewMemoryCache()
	if err != nil {
		log.Warn().Err(err).Msg("author cache unavailable, lookups go to postgres")
	}
	directory := users.NewStore(querier, authorCache, s.Cfg.AuthorCacheTTL)

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	optionalJWT := auth.OptionalJWTMiddleware(s.Cfg.JWTSecret)

	blobs := storage.NewService(querier, s.Redis, storage.Options{
		Secret:        s.Cfg.BlobSecret,
		PublicBaseURL: s.Cfg.PublicBaseURL,
		UploadURLTTL:  s.Cfg.UploadURLTTL,
		BlobURLTTL:    s.Cfg.BlobURLTTL,
	})
	feed := posts.NewService(posts.NewPostgresStore(querier), directory, blobs, posts.Options{
		DefaultPageSize: s.Cfg.FeedDefaultPageSize,
		MaxPageSize:     s.Cfg.FeedMaxPageSize,
		SearchScanCap:   s.Cfg.SearchScanCap,
		CursorSecret:    s.Cfg.CursorSecret,
	}, stream.NewFeedNotifier(s.Stream), events.NewNatsPublisher(s.Nats))

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, querier, directory), jwtMiddleware)
	posts.RegisterRoutes(s.App.Group("/posts"), feed, optionalJWT)
	storage.RegisterRoutes(s.App.Group("/storage"), blobs, optionalJWT)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
