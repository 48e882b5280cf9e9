package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abuccarelli/Unicorn1/internal/config"
	"github.com/abuccarelli/Unicorn1/internal/database"
	"github.com/abuccarelli/Unicorn1/internal/handlers"
	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/internal/routes"
	"github.com/abuccarelli/Unicorn1/internal/store"
	"github.com/abuccarelli/Unicorn1/internal/transport/memchannel"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

// setupAgent wires a full agent for userID onto an in-memory DB and
// transport, exactly as main does, and returns its router. The handlers use
// the package-level Agent, so only one agent is live per test.
func setupAgent(t *testing.T, userID, displayName string) (*gin.Engine, *memchannel.Transport) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Init("development")
	config.AppConfig = &config.Config{FrontendURL: "http://localhost:5173"}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.MessageAttachment{},
		&models.Notification{},
	); err != nil {
		t.Fatalf("Failed to migrate test DB: %v", err)
	}
	database.DB = db

	transport := memchannel.New()
	messages := store.New(db, transport)
	notifications := store.NewNotifications(db, transport)
	blobs := store.NewDiskBlobStore(t.TempDir(), "http://localhost:8085/files")

	fastRetry := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	notifier := realtime.NewNotifier(notifications, realtime.NotifierConfig{DedupWindow: 10 * time.Second, Retry: fastRetry})
	presence := realtime.NewPresence(transport, realtime.PresenceConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		OfflineThreshold:  time.Second,
		TrackDebounce:     time.Millisecond,
		Retry:             fastRetry,
	})
	typing := realtime.NewTyping(transport, userID, displayName, realtime.DefaultTypingConfig())
	feed := realtime.NewFeed(userID, notifications, transport, realtime.FeedConfig{Retry: fastRetry})

	handlers.InitAgent(&handlers.AgentState{
		UserID:             userID,
		DisplayName:        displayName,
		Presence:           presence,
		Typing:             typing,
		Feed:               feed,
		Transport:          transport,
		Messages:           messages,
		Blobs:              blobs,
		Notifier:           notifier,
		ConversationConfig: realtime.ConversationConfig{Retry: fastRetry},
	})

	ctx := context.Background()
	presence.Connect(ctx, userID, displayName)
	if err := feed.Open(ctx); err != nil {
		t.Fatalf("Failed to open feed: %v", err)
	}
	t.Cleanup(func() {
		handlers.Agent.Shutdown(ctx)
	})

	r := gin.New()
	api := r.Group("/api")
	routes.RegisterPresenceRoutes(api)
	routes.RegisterConversationRoutes(api)
	routes.RegisterNotificationRoutes(api)
	return r, transport
}

func performRequest(r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func performMultipart(r *gin.Engine, path string, fields map[string]string, files map[string]string) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	for name, content := range files {
		part, _ := writer.CreateFormFile("files", name)
		part.Write([]byte(content))
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
