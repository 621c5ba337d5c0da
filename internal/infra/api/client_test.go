package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"

	"messenger/internal/domain/chat"
)

type staticToken string

func (t staticToken) Credential() (string, bool) { return string(t), t != "" }

func newTestClient(t *testing.T, router http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, CallTimeout: 2 * time.Second}, staticToken(token), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestSignInIdentifyAndList(t *testing.T) {
	router := newRouter()
	router.POST("/signin", func(c *gin.Context) {
		var req struct{ Email, Password string }
		_ = c.ShouldBindJSON(&req)
		if req.Email != "alice@example.com" || req.Password != "secret" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": "abc"})
	})
	router.GET("/me", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer abc" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"_id": "u1", "name": "Alice", "email": "alice@example.com"})
	})
	router.GET("/chats", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(`[
			{"_id":"c1","type":"private","members":[{"_id":"u1","name":"Alice"},{"_id":"u2","name":"Bob","online":true}]},
			{"_id":"c2","type":"group","name":"Team","members":["u1","u2","u3"]}
		]`))
	})

	anon := newTestClient(t, router, "")
	if _, err := anon.SignIn(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	token, err := anon.SignIn(context.Background(), "alice@example.com", "secret")
	if err != nil || token != "abc" {
		t.Fatalf("signin: %q, %v", token, err)
	}
	if _, err := anon.Identify(context.Background()); !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("identify without credential should be unauthorized, got %v", err)
	}

	client := newTestClient(t, router, "abc")
	me, err := client.Identify(context.Background())
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if me.ID != "u1" || me.Name != "Alice" {
		t.Fatalf("unexpected identity %+v", me)
	}
	convs, err := client.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected two conversations, got %d", len(convs))
	}
	if convs[0].Kind != chat.KindDirect || convs[1].Kind != chat.KindGroup {
		t.Fatalf("unexpected kinds %q %q", convs[0].Kind, convs[1].Kind)
	}
	if peer, ok := convs[0].Peer("u1"); !ok || peer.ID != "u2" || !peer.Online {
		t.Fatalf("unexpected peer %+v", peer)
	}
	if len(convs[1].Members) != 3 || convs[1].Members[2].ID != "u3" {
		t.Fatalf("bare member ids not decoded: %+v", convs[1].Members)
	}
}

func TestSignInWithoutTokenIsServerError(t *testing.T) {
	router := newRouter()
	router.POST("/signin", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"error": "account locked"})
	})
	client := newTestClient(t, router, "")
	_, err := client.SignIn(context.Background(), "a@b.c", "pw")
	if chat.KindOf(err) != chat.KindServer || chat.UserMessage(err) != "account locked" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := client.SignIn(context.Background(), "", ""); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFetchMessagesDecodesFlexibleShapes(t *testing.T) {
	router := newRouter()
	router.GET("/chats/:id/messages", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(`[
			{"_id":"m1","chat":"c1","sender":{"_id":"u2","name":"Bob"},"text":"hi","image":null,"createdAt":"2024-05-01T10:00:00.000Z"},
			{"_id":"m2","chat":{"_id":"c1"},"sender":"u1","text":"","image":"https://cdn/x.png","createdAt":"2024-05-01T10:01:00Z"},
			{"_id":"m3","sender":"u1","text":"no chat ref","createdAt":"2024-05-01T10:02:00Z"}
		]`))
	})
	client := newTestClient(t, router, "abc")
	msgs, err := client.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Sender.Name != "Bob" || msgs[0].HasImage() {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].ConversationID != "c1" || msgs[1].Sender.ID != "u1" || msgs[1].Image != "https://cdn/x.png" {
		t.Fatalf("unexpected second message %+v", msgs[1])
	}
	if msgs[2].ConversationID != "c1" {
		t.Fatal("missing chat ref should default to the requested conversation")
	}
	if !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Fatal("timestamps not decoded")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	router := newRouter()
	router.GET("/chats", func(c *gin.Context) {
		switch c.Query("case") {
		case "404":
			c.JSON(http.StatusNotFound, gin.H{"error": "missing"})
		case "422":
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "bad input"})
		default:
			c.String(http.StatusInternalServerError, "boom")
		}
	})
	client := newTestClient(t, router, "abc")
	cases := map[string]chat.ErrorKind{"404": chat.KindNotFound, "422": chat.KindValidation, "500": chat.KindServer}
	for q, want := range cases {
		err := client.doJSON(context.Background(), http.MethodGet, "/chats?case="+q, nil, nil)
		if chat.KindOf(err) != want {
			t.Fatalf("case %s: expected %s, got %v", q, want, err)
		}
	}

	dead, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", CallTimeout: time.Second}, staticToken("abc"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dead.ListConversations(context.Background()); !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestCreateConversations(t *testing.T) {
	router := newRouter()
	router.POST("/chats", func(c *gin.Context) {
		var req struct {
			Type     string   `json:"type"`
			MemberID string   `json:"memberId"`
			Name     string   `json:"name"`
			Members  []string `json:"members"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		switch req.Type {
		case "private":
			c.JSON(http.StatusOK, gin.H{"_id": "d1", "type": "private", "members": []gin.H{{"_id": "u1"}, {"_id": req.MemberID}}})
		case "group":
			c.JSON(http.StatusOK, gin.H{"_id": "g1", "type": "group", "name": req.Name, "members": req.Members})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type"})
		}
	})
	client := newTestClient(t, router, "abc")
	direct, err := client.CreateDirectConversation(context.Background(), "u2")
	if err != nil || direct.ID != "d1" || direct.Kind != chat.KindDirect {
		t.Fatalf("direct: %+v, %v", direct, err)
	}
	group, err := client.CreateGroupConversation(context.Background(), "Team", []string{"u2", " u3 ", "u2"})
	if err != nil || group.Name != "Team" || len(group.Members) != 2 {
		t.Fatalf("group: %+v, %v", group, err)
	}
	if _, err := client.CreateGroupConversation(context.Background(), "", []string{"u2"}); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveEmailsUsesBatchHelper(t *testing.T) {
	router := newRouter()
	router.POST("/resolve-emails", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(`{"ids":["u2",null]}`))
	})
	client := newTestClient(t, router, "abc")
	ids, err := client.ResolveEmails(context.Background(), []string{"bob@example.com", "ghost@example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 1 || ids["bob@example.com"] != "u2" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestResolveEmailsFallsBackWhenHelperMissing(t *testing.T) {
	router := newRouter()
	router.GET("/users/by-email", func(c *gin.Context) {
		if c.Query("email") == "bob@example.com" {
			c.JSON(http.StatusOK, gin.H{"id": "u2"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	client := newTestClient(t, router, "abc")
	ids, err := client.ResolveEmails(context.Background(), []string{"bob@example.com", "ghost@example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ids) != 1 || ids["bob@example.com"] != "u2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := client.LookupByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadImageSendsMultipart(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	router := newRouter()
	router.POST("/upload", func(c *gin.Context) {
		file, header, err := c.Request.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image field missing"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != string(png) || header.Filename != "cat.png" || header.Header.Get("Content-Type") != "image/png" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected upload"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": "https://cdn.example/cat.png"})
	})
	client := newTestClient(t, router, "abc")
	url, err := client.UploadImage(context.Background(), "/home/me/cat.png", png)
	if err != nil || url != "https://cdn.example/cat.png" {
		t.Fatalf("upload: %q, %v", url, err)
	}
	if _, err := client.UploadImage(context.Background(), "x.png", nil); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := client.UploadImage(context.Background(), "notes.txt", []byte("plain text")); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected non-image to be rejected, got %v", err)
	}
}
