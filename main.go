package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/api"
	"boardsync/feed"
	"boardsync/mutate"
	"boardsync/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tables := storage.Tables{
		Boards:   os.Getenv("BOARDS_TABLE"),
		Columns:  os.Getenv("COLUMNS_TABLE"),
		Cards:    os.Getenv("CARDS_TABLE"),
		Comments: os.Getenv("COMMENTS_TABLE"),
	}
	if connStr == "" || tables.Boards == "" || tables.Columns == "" || tables.Cards == "" || tables.Comments == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tables, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	snapshotTTL := 5 * time.Minute
	if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %v", err)
		}
		snapshotTTL = d
	}
	cached := storage.NewCache(store, rc, snapshotTTL)

	changeFeed := feed.NewRedis(rc, logger)
	store.SetPublisher(changeFeed)
	broadcast := feed.NewBroadcast(rc, logger)

	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	auth := api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")

	hub := api.NewHub(api.HubConfig{
		Feed:      changeFeed,
		Snapshots: cached,
		Persister: func(boardID string) mutate.Persister { return cached.ForBoard(boardID) },
		Channel:   broadcast,
		Listen:    broadcast.Listen,
		Logger:    logger,
	})
	defer hub.Close()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, hub, auth)

	listenAddr := ":9000"
	if val, ok := os.LookupEnv("BOARDSYNC_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
