package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/muskiagrwal/Real-time-Messaging-App/internal/auth"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/chat"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/config"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/database"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/handlers"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/membership"
	"github.com/muskiagrwal/Real-time-Messaging-App/internal/services"
	ws "github.com/muskiagrwal/Real-time-Messaging-App/internal/websocket"
	"github.com/muskiagrwal/Real-time-Messaging-App/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Every deployment gets a public lobby so fresh accounts have
	// somewhere to land.
	if lobbyID, err := db.GetOrCreateRoom(context.Background(), "general"); err != nil {
		logger.Warn("Failed to ensure default room: %v", err)
	} else {
		logger.Info("Default room \"general\" ready (id %d)", lobbyID)
	}

	// Membership checks hit Postgres unless a Redis cache is configured.
	checker, invalidator := buildChecker(db, cfg)

	// Initialize services
	authService := auth.NewService(db, cfg)
	roomService := services.NewRoomService(db, invalidator)

	// Initialize the fan-out core
	typingTracker := chat.NewTypingTracker()
	router := chat.NewRouter(
		chat.NewPresenceRegistry(),
		chat.NewRoomDirectory(),
		typingTracker,
		cfg.Chat.TypingTTL,
	)
	gateway := ws.NewGateway(authService, checker, db, db, router, cfg)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	roomHandlers := handlers.NewRoomHandlers(roomService, authService)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, roomHandlers, gateway)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
		logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
		printAPIEndpoints()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Expired typing entries are reclaimed in the background so rooms
	// nobody queries do not pin memory.
	g.Go(func() error {
		typingTracker.Sweep(ctx, cfg.Chat.TypingSweepEvery)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		gateway.Shutdown()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}

// buildChecker wires the membership authority. With REDIS_ADDR unset, or
// Redis unreachable at boot, verdicts come straight from Postgres and
// room mutations skip cache invalidation.
func buildChecker(db database.Database, cfg *config.Config) (membership.Checker, membership.Invalidator) {
	store := membership.NewStoreChecker(db)
	if cfg.Redis.Addr == "" {
		return store, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, membership caching disabled: %v", err)
		client.Close()
		return store, nil
	}

	logger.Info("Membership cache enabled: redis at %s (ttl %s)", cfg.Redis.Addr, cfg.Redis.MembershipTTL)
	cached := membership.NewCachedChecker(store, client, cfg.Redis.MembershipTTL)
	return cached, cached
}

func setupRoutes(mux *http.ServeMux, authHandlers *handlers.AuthHandlers, roomHandlers *handlers.RoomHandlers, gateway *ws.Gateway) {
	// Auth routes
	mux.HandleFunc("/login", authHandlers.Login)
	mux.HandleFunc("/register", authHandlers.Register)

	// Room routes
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodGet:
			roomHandlers.ListRooms(w, r)
		case http.MethodPost:
			roomHandlers.CreateRoom(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Room sub-routes
	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rooms" {
			http.Error(w, "use /rooms endpoint", http.StatusBadRequest)
			return
		}

		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 3 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		// /rooms/{id}/invite
		if len(parts) == 4 && parts[3] == "invite" && r.Method == http.MethodPost {
			roomHandlers.InviteUser(w, r)
			return
		}

		// /rooms/{id}/members
		if len(parts) == 4 && parts[3] == "members" && r.Method == http.MethodGet {
			roomHandlers.GetRoomMembers(w, r)
			return
		}

		// /rooms/{id}/leave
		if len(parts) == 4 && parts[3] == "leave" && r.Method == http.MethodDelete {
			roomHandlers.LeaveRoom(w, r)
			return
		}

		// /rooms/{id}/active
		if len(parts) == 4 && parts[3] == "active" && r.Method == http.MethodGet {
			roomHandlers.GetActiveUsers(w, r)
			return
		}

		// /rooms/{id} DELETE
		if len(parts) == 3 && r.Method == http.MethodDelete {
			roomHandlers.DeleteRoom(w, r)
			return
		}

		http.Error(w, "endpoint not found", http.StatusNotFound)
	})

	// WebSocket route
	mux.HandleFunc("/ws", gateway.ServeWS)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /login")
	logger.Info("   POST /register")
	logger.Info("   GET  /rooms")
	logger.Info("   POST /rooms")
	logger.Info("   GET  /rooms/{id}/members")
	logger.Info("   POST /rooms/{id}/invite")
	logger.Info("   DELETE /rooms/{id}/leave")
	logger.Info("   GET  /rooms/{id}/active")
	logger.Info("   DELETE /rooms/{id}")
}
