package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/broadcast"
	"rfidattend/internal/config"
	"rfidattend/internal/gateway"
	"rfidattend/internal/httpmiddleware"
	"rfidattend/internal/metrics"
	"rfidattend/internal/queue"
	"rfidattend/internal/store"
	"rfidattend/internal/tagreader"
)

var (
	studentIDPattern = regexp.MustCompile(`^\d{6}$`)
	phonePattern     = regexp.MustCompile(`^05[0-9][\s-]?[0-9]{3}[\s-]?[0-9]{4}$`)
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
	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rfidattend:outcomes")
	}

	repo := attendance.NewRepository(db.Client)
	machine := attendance.NewService(repo, repo, cfg.StoreTimeout)
	normalizer := tagreader.New(cfg.TagPrefix, cfg.TagSuffix, cfg.TagHex, cfg.Debounce)
	hub := broadcast.NewHub(cfg.SubscriberBuffer, func() { metrics.SubscribersDropped.Inc() })
	gw := gateway.New(normalizer, machine, hub, q)

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
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := repo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.DeviceID, "reader", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Ingestion boundary: raw readings from authenticated reader relays.
	scans := r.Group("/v1", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	scans.POST("/scans", func(c *gin.Context) {
		var req struct {
			TagID string `json:"tagId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tagId is required"})
			return
		}

		outcome, err := gw.Submit(c.Request.Context(), req.TagID)
		if outcome == nil {
			// Debounced repeat or non-tag line: a no-op, not an error.
			c.Status(http.StatusNoContent)
			return
		}
		switch {
		case errors.Is(err, attendance.ErrUnknownStudent):
			c.JSON(http.StatusNotFound, outcome)
		case err != nil:
			c.JSON(http.StatusInternalServerError, outcome)
		default:
			c.JSON(http.StatusOK, outcome)
		}
	})

	// Live observer stream. Each dashboard holds one subscription; a client
	// that stops reading is dropped by the hub rather than stalling scans.
	r.GET("/v1/live", func(c *gin.Context) {
		sub := hub.Subscribe()
		metrics.Subscribers.Inc()
		defer func() {
			sub.Close()
			metrics.Subscribers.Dec()
		}()

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Stream(func(w io.Writer) bool {
			select {
			case out, ok := <-sub.Events():
				if !ok {
					return false
				}
				c.SSEvent("scan", out)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	r.GET("/v1/attendance/today", func(c *gin.Context) {
		now := time.Now()
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		records, err := repo.AttendanceBetween(c.Request.Context(), from, from.AddDate(0, 0, 1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	r.GET("/v1/attendance/range", func(c *gin.Context) {
		from, err := time.ParseInLocation("2006-01-02", c.Query("start"), time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
			return
		}
		to, err := time.ParseInLocation("2006-01-02", c.Query("end"), time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}
		records, err := repo.AttendanceBetween(c.Request.Context(), from, to.AddDate(0, 0, 1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Student directory endpoints: plain CRUD glue around the directory the
	// scan pipeline reads from.
	r.GET("/v1/students", func(c *gin.Context) {
		students, err := repo.ListStudents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": students})
	})

	r.GET("/v1/students/:id", func(c *gin.Context) {
		student, err := repo.GetStudent(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if student == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusOK, student)
	})

	r.POST("/v1/students", func(c *gin.Context) {
		var req struct {
			StudentID   string `json:"student_id" binding:"required"`
			Name        string `json:"name" binding:"required"`
			Grade       string `json:"grade" binding:"required"`
			ParentPhone string `json:"parent_phone" binding:"required"`
			RFIDTag     string `json:"rfid_tag"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !studentIDPattern.MatchString(req.StudentID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student id must be 6 digits"})
			return
		}
		if !phonePattern.MatchString(req.ParentPhone) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "phone must be 05X followed by 7 digits"})
			return
		}

		student, err := repo.CreateStudent(c.Request.Context(), attendance.Student{
			StudentID:   req.StudentID,
			Name:        req.Name,
			Grade:       req.Grade,
			ParentPhone: formatPhone(req.ParentPhone),
			RFIDTag:     req.RFIDTag,
		})
		if err != nil {
			if errors.Is(err, attendance.ErrDuplicateStudent) {
				c.JSON(http.StatusConflict, gin.H{"error": "student id already registered"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "student added", "student": student})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /v1/live streams indefinitely
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// formatPhone stores numbers as "05X XXX XXXX" regardless of how the caller
// grouped the digits.
func formatPhone(phone string) string {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(phone)
	if len(digits) != 10 {
		return phone
	}
	return digits[:3] + " " + digits[3:6] + " " + digits[6:]
}

// CORS middleware for browser dashboards.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
