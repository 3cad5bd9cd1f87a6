package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"lovelink/internal/adapter/api"
	"lovelink/internal/adapter/api/handler"
	apimiddleware "lovelink/internal/adapter/api/middleware"
	"lovelink/internal/adapter/api/router"
	"lovelink/internal/adapter/repository"
	domainrepo "lovelink/internal/domain/repository"
	"lovelink/internal/infrastructure/firebase"
	"lovelink/internal/infrastructure/memstore"
	"lovelink/internal/infrastructure/ratelimit"
	"lovelink/internal/infrastructure/storage"
	"lovelink/internal/infrastructure/websocket"
	"lovelink/internal/usecase"
	"lovelink/pkg/config"
	"lovelink/pkg/logger"
)

// backend is what a store driver provides to the rest of the server.
type backend struct {
	chatRepo     domainrepo.ConversationRepository
	presenceRepo domainrepo.PresenceRepository
	verifier     apimiddleware.TokenVerifier
	imageStore   handler.ImageStore
	closers      []func() error
}

func credentialsOption(cfg *config.Config) option.ClientOption {
	if cfg.ServiceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	}
	if cfg.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		return option.WithCredentialsFile(cfg.ServiceAccountPath)
	}
	log.Printf("Using application default credentials")
	return nil
}

func firestoreBackend(ctx context.Context, cfg *config.Config) *backend {
	var opts []option.ClientOption
	if opt := credentialsOption(cfg); opt != nil {
		opts = append(opts, opt)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}

	b := &backend{
		chatRepo:     repository.NewFirestoreChatRepository(firestoreClient),
		presenceRepo: repository.NewFirestorePresenceRepository(firestoreClient),
		verifier:     firebase.NewFirebaseAuthClient(authClient),
		closers:      []func() error{firestoreClient.Close},
	}

	if cfg.StorageBucket == "" {
		log.Printf("STORAGE_BUCKET is not set, image uploads are disabled")
		return b
	}

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}
	b.imageStore = storageClient
	b.closers = append(b.closers, storageClient.Close)
	return b
}

func memoryBackend() *backend {
	log.Printf("Using in-memory store with development tokens")
	store := memstore.New()
	return &backend{
		chatRepo:     repository.NewMemoryConversationRepository(store),
		presenceRepo: repository.NewMemoryPresenceRepository(store),
		verifier:     firebase.DevVerifier{},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b *backend
	switch cfg.StoreDriver {
	case "memory":
		b = memoryBackend()
	case "firestore":
		b = firestoreBackend(ctx, cfg)
	default:
		log.Fatalf("Unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	defer func() {
		for _, closeFn := range b.closers {
			if err := closeFn(); err != nil {
				logger.Error("Failed to close client: %v", err)
			}
		}
	}()

	chatUseCase := usecase.NewChatUseCase(b.chatRepo, cfg.MessagePageSize, cfg.MaxPageSize)
	presenceUseCase := usecase.NewPresenceUseCase(b.presenceRepo, cfg.PresenceBatchSize, cfg.PresenceStopTimeout)
	stoppers := usecase.NewStopperRegistry()
	wsManager := websocket.NewManager()

	limiter := ratelimit.NewRateLimiter(nil)
	limiter.StartCleanupRoutine(ctx)

	handler.Setup(handler.Deps{
		BaseCtx:         ctx,
		StoreDriver:     cfg.StoreDriver,
		ChatUseCase:     chatUseCase,
		PresenceUseCase: presenceUseCase,
		Stoppers:        stoppers,
		WSManager:       wsManager,
		ImageStore:      b.imageStore,
		DefaultPageSize: cfg.MessagePageSize,
		MaxPageSize:     cfg.MaxPageSize,
		UploadMaxBytes:  cfg.UploadMaxBytes,
	})

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(b.verifier)

	router.Setup(e, authMiddleware, limiter)
	router.SetupDevRouter(e, cfg.Environment, cfg.StoreDriver)

	go func() {
		log.Printf("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	// Offline writes go out before the connections that drive them are closed.
	stoppers.StopAll()
	wsManager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}
}
