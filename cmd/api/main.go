package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/classroom"
	"classattend/internal/cleanup"
	"classattend/internal/clock"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/httpmiddleware"
	"classattend/internal/session"
	"classattend/internal/store"
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
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	clk := clock.System{}
	dayLoc := cfg.DayLocation()

	classrooms := classroom.NewDirectory(db.Client)
	sessionRepo := session.NewRepository(db.Client)
	attendanceRepo := attendance.NewRepository(db.Client)

	var sessionCache session.Cache
	var cleanupCache cleanup.Cache
	if redisClient.Healthy(context.Background()) {
		redisCache := session.NewRedisCache(redisClient.Client)
		sessionCache = redisCache
		cleanupCache = redisCache
	} else {
		log.Println("redis not reachable, session status served from postgres only")
	}

	sessions := session.NewManager(sessionRepo, classrooms, sessionCache, clk, cfg.DefaultSessionMinutes)
	guard := attendance.NewGuard(sessions, attendanceRepo, clk, dayLoc)

	cleaner := cleanup.NewEngine(sessionRepo, attendanceRepo, cleanupCache, clk, cfg.CleanupDelay, cfg.CleanupCheckInterval, dayLoc)
	cleaner.Start()
	defer cleaner.Stop()

	// Cloudinary client (nil when not configured)
	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Healthy(c.Request.Context())
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	r.POST("/api/classrooms", func(c *gin.Context) {
		var req struct {
			CourseName  string `json:"courseName" binding:"required"`
			ClassCode   string `json:"classCode" binding:"required"`
			TeacherName string `json:"teacherName"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		created, err := classrooms.Create(c.Request.Context(), req.CourseName, req.ClassCode, req.TeacherName)
		if err != nil {
			if errors.Is(err, classroom.ErrCodeTaken) {
				c.JSON(http.StatusConflict, gin.H{"success": false, "message": "class code already in use"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create classroom"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "classroom": created})
	})

	api := r.Group("/api/attendance")

	api.POST("/start-session/:classroomId", func(c *gin.Context) {
		var req struct {
			Duration int `json:"duration"`
		}
		// Body is optional; duration defaults when absent.
		_ = c.ShouldBindJSON(&req)

		res, err := sessions.Start(c.Request.Context(), c.Param("classroomId"), req.Duration)
		if err != nil {
			if errors.Is(err, session.ErrClassroomNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Classroom not found"})
				return
			}
			log.Printf("start session failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to start attendance session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         "Attendance session started",
			"sessionId":       res.SessionID,
			"startedAt":       res.StartedAt,
			"expiresAt":       res.ExpiresAt,
			"durationMinutes": res.DurationMinutes,
			"serverNow":       res.ServerNow,
		})
	})

	api.POST("/stop-session/:classroomId", func(c *gin.Context) {
		wasActive, err := sessions.Stop(c.Request.Context(), c.Param("classroomId"))
		if err != nil {
			log.Printf("stop session failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to stop attendance session"})
			return
		}
		msg := "Attendance session stopped"
		if !wasActive {
			msg = "No active session to stop (session may have already ended)"
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "wasActive": wasActive})
	})

	api.GET("/session-status/:classroomId", func(c *gin.Context) {
		status, err := sessions.Status(c.Request.Context(), c.Param("classroomId"))
		if err != nil {
			log.Printf("session status failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to check session status"})
			return
		}
		resp := gin.H{
			"success":       true,
			"isActive":      status.IsActive,
			"timeRemaining": status.TimeRemaining,
		}
		if status.SessionID != "" {
			resp["sessionId"] = status.SessionID
			resp["expiresAt"] = status.ExpiresAt
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/submit/:classroomId", func(c *gin.Context) {
		studentID := c.PostForm("studentId")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Student ID is required"})
			return
		}

		file, header, err := c.Request.FormFile("photo")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Photo is required for attendance submission"})
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxPhotoBytes {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Photo exceeds the size limit"})
			return
		}
		if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Only image files are allowed"})
			return
		}

		if cdn == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Photo storage not configured"})
			return
		}

		data, err := io.ReadAll(io.LimitReader(file, cfg.MaxPhotoBytes+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read photo"})
			return
		}

		upload, err := cdn.UploadPhoto(data, photoPublicID(studentID, clk.Now()))
		if err != nil {
			log.Printf("photo upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Photo upload failed. Please try again."})
			return
		}

		rec, err := guard.Submit(c.Request.Context(), attendance.Submission{
			ClassroomID:  c.Param("classroomId"),
			StudentID:    studentID,
			StudentName:  c.PostForm("studentName"),
			StudentEmail: c.PostForm("studentEmail"),
			PhotoURL:     upload.SecureURL,
		})
		if err != nil {
			switch {
			case errors.Is(err, attendance.ErrNoActiveSession):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No active attendance session found"})
			case errors.Is(err, attendance.ErrSessionExpired):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Attendance session has expired"})
			case errors.Is(err, attendance.ErrDuplicateSubmission):
				c.JSON(http.StatusConflict, gin.H{"success": false, "message": "You have already submitted attendance today"})
			case errors.Is(err, attendance.ErrMissingFields):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			default:
				log.Printf("submit attendance failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to submit attendance. Please try again."})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"message":      "Attendance submitted successfully",
			"attendanceId": rec.ID,
		})
	})

	api.GET("/list/:classroomId", func(c *gin.Context) {
		target := clk.Now()
		if raw := c.Query("date"); raw != "" {
			parsed, err := time.ParseInLocation("2006-01-02", raw, dayLoc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid date, expected YYYY-MM-DD"})
				return
			}
			target = parsed
		}
		from, to := attendance.DayWindow(target, dayLoc)

		records, err := attendanceRepo.ListForDay(c.Request.Context(), c.Param("classroomId"), from, to)
		if err != nil {
			log.Printf("list attendance failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to get attendance list"})
			return
		}
		if records == nil {
			records = []attendance.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "attendanceList": records, "count": len(records)})
	})

	api.POST("/cleanup/now", func(c *gin.Context) {
		res, err := cleaner.Sweep(c.Request.Context())
		if err != nil {
			log.Printf("manual cleanup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": "Manual cleanup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":                true,
			"deletedSessions":   res.DeletedSessions,
			"deletedAttendance": res.DeletedAttendance,
		})
	})

	api.GET("/cleanup/stats", func(c *gin.Context) {
		stats, err := cleaner.Stats(c.Request.Context())
		if err != nil {
			log.Printf("cleanup stats failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to get cleanup statistics"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.DELETE("/cleanup-session/:classroomId", func(c *gin.Context) {
		res, err := cleaner.FinishSession(c.Request.Context(), c.Param("classroomId"))
		if err != nil {
			log.Printf("finish-session cleanup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to delete session data"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":           true,
			"deletedSessions":   res.DeletedSessions,
			"deletedAttendance": res.DeletedAttendance,
		})
	})

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// photoPublicID names an uploaded photo after the student and the submission
// instant so repeat uploads never overwrite each other.
func photoPublicID(studentID string, now time.Time) string {
	return studentID + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
