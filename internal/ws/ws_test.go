package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storagedesk/config"
	"storagedesk/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, cfg *config.JWTConfig, feed *RunFeed) string {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/autopay", UpgradeRunFeed(cfg, feed))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/autopay"
}

func TestRunFeedBroadcast(t *testing.T) {
	feed := NewRunFeed()
	url := feedServer(t, &config.JWTConfig{}, feed)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	feed.Notify("lease", map[string]interface{}{"lease_id": 7, "ok": true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "lease", got.Type)
	assert.Equal(t, float64(7), got.Data["lease_id"])

	conn.Close()
	require.Eventually(t, func() bool { return feed.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRunFeedRequiresToken(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s", AccessExpiry: time.Minute}
	feed := NewRunFeed()
	url := feedServer(t, cfg, feed)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := auth.GenerateAccessToken(cfg, 3, "m@example.com", "manager")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	feed := NewRunFeed()
	c := &Client{Send: make(chan []byte, 1)}
	feed.Register(c)
	for i := 0; i < 5; i++ {
		feed.Notify("run", i)
	}
	assert.Len(t, c.Send, 1)
	c.Close()
	assert.Equal(t, 0, feed.ClientCount())
}
