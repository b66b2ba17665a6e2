package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"apuracao-service/internal/config"
	"apuracao-service/internal/database"
	"apuracao-service/internal/events"
	"apuracao-service/internal/handlers"
	"apuracao-service/internal/jobs"
	"apuracao-service/internal/middleware"
	"apuracao-service/internal/repository"
	"apuracao-service/internal/services"
)

func main() {
	// Load .env if present (local development)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Connect to database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✓ Connected to database")

	// Run automated database migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis cache is optional; the repository degrades to DB-only reads
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("WARNING: Redis unavailable: %v (cache disabled)", err)
			redisClient = nil
		} else {
			log.Println("✓ Connected to Redis")
		}
	}

	// Initialize NATS events publisher
	publisher, err := events.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		log.Printf("WARNING: Failed to initialize events publisher: %v (events won't be published)", err)
		publisher = nil
	} else if publisher != nil {
		log.Println("✓ NATS events publisher initialized")
		defer publisher.Close()
	}

	// Initialize repository
	repo := repository.NewApuracaoRepository(db, redisClient)

	// Initialize services
	apuracaoService := services.NewApuracaoService(repo, publisher, nil, logger)
	dasService := services.NewDASService(repo, apuracaoService, publisher, nil, logger)

	// Initialize handlers
	apuracaoHandler := handlers.NewApuracaoHandler(apuracaoService)
	dasHandler := handlers.NewDASHandler(dasService)

	// Start the vencimento job
	vencimentoJob := jobs.NewVencimentoJob(repo, dasService, logger,
		time.Duration(cfg.VencimentoIntervalMinutes)*time.Minute)
	jobCtx, cancelJob := context.WithCancel(context.Background())
	defer cancelJob()
	go vencimentoJob.Start(jobCtx)

	// Setup router
	router := setupRouter(apuracaoHandler, dasHandler, db)

	// Start server
	log.Printf("Apuracao Service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupRouter configures the HTTP router
func setupRouter(apuracaoHandler *handlers.ApuracaoHandler, dasHandler *handlers.DASHandler, db *gorm.DB) *gin.Engine {
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Tenant-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// Health checks
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "apuracao-service",
		})
	})

	// Liveness probe - simple check that the service is running
	router.GET("/livez", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Readiness probe - check that DB is accessible
	router.GET("/readyz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(503, gin.H{"status": "error", "message": "database not available"})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "error", "message": "database ping failed"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API routes require tenant context
	v1 := router.Group("/api/v1")
	v1.Use(middleware.TenantMiddleware())
	{
		apuracoes := v1.Group("/apuracoes")
		{
			apuracoes.POST("", apuracaoHandler.Calcular)
			apuracoes.GET("", apuracaoHandler.List)
			apuracoes.GET("/:id", apuracaoHandler.Get)
			apuracoes.POST("/:id/validar", apuracaoHandler.Validar)
			apuracoes.POST("/:id/transmitir", apuracaoHandler.Transmitir)
			apuracoes.POST("/:id/cancelar", apuracaoHandler.Cancelar)
			apuracoes.POST("/:id/recalcular", apuracaoHandler.Recalcular)
			apuracoes.POST("/:id/das", dasHandler.GerarDeApuracao)
		}

		das := v1.Group("/das")
		{
			das.POST("", dasHandler.GerarDireto)
			das.GET("", dasHandler.List)
			das.GET("/:id", dasHandler.Get)
			das.POST("/:id/pagar", dasHandler.Pagar)
			das.POST("/:id/cancelar", dasHandler.Cancelar)
			das.GET("/:id/pdf", dasHandler.PDF)
		}
	}

	return router
}
