package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scheduling/internal/auth"
	"scheduling/internal/config"
	"scheduling/internal/httpmiddleware"
	"scheduling/internal/queue"
	"scheduling/internal/roster"
	"scheduling/internal/scheduling"
	"scheduling/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	var (
		st scheduling.Store
		db *store.DB
	)
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory store (data is not persisted)")
		st = scheduling.NewMemoryStore()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
		st = scheduling.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "scheduling:notifications")
	}

	configs := scheduling.NewConfigService(st)
	bookings := scheduling.NewBookingService(st)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Public booking flow, consumed by the unauthenticated front end.
	public := r.Group("/v1/public")

	public.POST("/login", func(c *gin.Context) {
		var req struct {
			ConfigID  string `json:"config_id" binding:"required"`
			StudentID string `json:"student_id" binding:"required"`
			LoginCode string `json:"login_code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		student, cfgOut, appt, err := bookings.Login(c.Request.Context(), req.ConfigID, req.StudentID, req.LoginCode)
		if err != nil {
			bookingError(c, err)
			return
		}

		session, err := auth.Issue(student.ID, "student", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":       session.Token,
			"expires_at":  session.ExpiresAt.Unix(),
			"student":     student,
			"config":      cfgOut,
			"appointment": appt,
		})
	})

	public.GET("/configs/:id/available-slots", func(c *gin.Context) {
		days, err := bookings.ListAvailable(c.Request.Context(), c.Param("id"))
		if err != nil {
			bookingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": days})
	})

	// Book and cancel require the session issued at login; the token
	// subject must match the student id in the body.
	session := r.Group("/v1/public", auth.StudentSession(cfg.JWTSigningKey, cfg.JWTIssuer))

	session.POST("/book", func(c *gin.Context) {
		var req struct {
			ConfigID  string `json:"config_id" binding:"required"`
			StudentID string `json:"student_id" binding:"required"`
			SlotID    string `json:"slot_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !claimedStudent(c, req.StudentID) {
			return
		}

		appt, err := bookings.Book(c.Request.Context(), req.ConfigID, req.StudentID, req.SlotID)
		if err != nil {
			bookingError(c, err)
			return
		}

		// Confirmation mail is dispatched after commit and never awaited.
		if err := q.Publish(ctx, queue.Message{Kind: queue.KindBooked, StudentID: req.StudentID, ConfigID: req.ConfigID}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, gin.H{"appointment": appt})
	})

	session.POST("/cancel", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !claimedStudent(c, req.StudentID) {
			return
		}

		appt, err := bookings.Cancel(c.Request.Context(), req.StudentID)
		if err != nil {
			bookingError(c, err)
			return
		}

		if err := q.Publish(ctx, queue.Message{Kind: queue.KindCancelled, StudentID: req.StudentID, ConfigID: appt.ConfigID}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	// Administrative lifecycle, consumed by the staff dashboard. Staff
	// authn lives in front of this service.
	admin := r.Group("/v1/admin")

	admin.POST("/configs", func(c *gin.Context) {
		var in scheduling.ConfigInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, slots, err := configs.Create(c.Request.Context(), in)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"config": created, "slots_created": slots})
	})

	admin.GET("/configs", func(c *gin.Context) {
		list, err := configs.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"configs": list})
	})

	admin.GET("/configs/:id", func(c *gin.Context) {
		cfgOut, err := configs.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			bookingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"config": cfgOut})
	})

	admin.PATCH("/configs/:id/closed", func(c *gin.Context) {
		var req struct {
			Closed *bool `json:"closed" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := configs.SetClosed(c.Request.Context(), c.Param("id"), *req.Closed); err != nil {
			bookingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"closed": *req.Closed})
	})

	admin.DELETE("/configs/:id", func(c *gin.Context) {
		if err := configs.Delete(c.Request.Context(), c.Param("id")); err != nil {
			bookingError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	admin.POST("/configs/:id/roster", func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()

		records, badRows, err := roster.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entries := make([]scheduling.RosterEntry, len(records))
		for i, rec := range records {
			entries[i] = scheduling.RosterEntry{
				ExternalID: rec.ExternalID,
				FullName:   rec.FullName,
				Email:      rec.Email,
				Phone:      rec.Phone,
				Faculty:    rec.Faculty,
				Department: rec.Department,
				Level:      rec.Level,
			}
		}

		inserted, skipped, err := configs.ImportRoster(c.Request.Context(), c.Param("id"), entries)
		if err != nil {
			bookingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"imported": inserted, "skipped": skipped + badRows})
	})

	admin.POST("/configs/:id/notify", func(c *gin.Context) {
		students, err := configs.Unnotified(c.Request.Context(), c.Param("id"))
		if err != nil {
			bookingError(c, err)
			return
		}
		queued := 0
		for _, s := range students {
			msg := queue.Message{Kind: queue.KindLoginCode, StudentID: s.ID, ConfigID: s.ConfigID}
			if err := q.Publish(ctx, msg); err != nil {
				log.Printf("queue publish failed for student %s: %v", s.ID, err)
				continue
			}
			queued++
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": queued})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// claimedStudent checks that the session subject matches the student id the
// request claims to act for; writes 403 and returns false on mismatch.
func claimedStudent(c *gin.Context, studentID string) bool {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	if claims.Subject != "" && claims.Subject != studentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
		return false
	}
	return true
}

// bookingError maps the domain error taxonomy onto status codes.
func bookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, scheduling.ErrSchedulingUnavailable):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduling.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduling.ErrAlreadyScheduled), errors.Is(err, scheduling.ErrSlotFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
