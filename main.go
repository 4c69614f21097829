package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmirror/api"
	"taskmirror/engine"
	"taskmirror/feed"
	"taskmirror/identity"
	"taskmirror/store"
)

// feedSource adapts the redis feed to the engine's subscription interface.
type feedSource struct {
	feed *feed.Feed
}

func (f feedSource) Subscribe(ctx context.Context, owner string) (engine.Subscription, error) {
	return f.feed.Subscribe(ctx, owner)
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	if connStr == "" || tasksTableName == "" {
		log.Fatal("missing storage config")
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

	feedChannel := os.Getenv("FEED_CHANNEL")
	if feedChannel == "" {
		feedChannel = "task-changes"
	}

	logger := log.New()

	st, err := store.New(connStr, tasksTableName, rc, feedChannel, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	if err := st.EnsureTable(context.Background()); err != nil {
		log.Fatalf("ensure table: %v", err)
	}

	var auth *identity.Auth
	if secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); secret != "" {
		auth = identity.NewLocalAuth([]byte(secret))
	} else {
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
		auth = identity.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	watcher := identity.NewWatcher(auth, logger)
	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		if _, err := watcher.Set(token); err != nil {
			log.Fatalf("auth token: %v", err)
		}
	}

	eng := engine.New(st, feedSource{feed: feed.New(rc, feedChannel, logger)}, watcher, logger)
	go func() {
		if err := eng.Run(context.Background()); err != nil {
			logger.WithError(err).Error("engine stopped")
		}
	}()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, eng, watcher, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("TASKMIRROR_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
