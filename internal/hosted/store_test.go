package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(core.HostedConfig{URL: server.URL + "/", APIKey: "anon", Token: "user-token"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewStore(client)
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL(" https://example.supabase.co/ ")
	if err != nil || got != "https://example.supabase.co" {
		t.Fatalf("unexpected normalize result %q, %v", got, err)
	}
	if _, err := NormalizeBaseURL("example.com"); err == nil {
		t.Fatal("expected error for missing scheme")
	}
	if _, err := NormalizeBaseURL(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestFetchRootMessagesBuildsQueryAndReverses(t *testing.T) {
	before := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		query := r.URL.Query()
		checks := map[string]string{
			"channel_id": "eq.c1",
			"parent_id":  "is.null",
			"deleted_at": "is.null",
			"created_at": "lt.2024-03-01T12:00:00Z",
			"order":      "created_at.desc,id.desc",
			"limit":      "50",
		}
		for key, want := range checks {
			if got := query.Get(key); got != want {
				t.Errorf("query %s = %q, want %q", key, got, want)
			}
		}
		if !strings.Contains(query.Get("select"), "author:profiles!user_id") {
			t.Errorf("select missing author embed: %s", query.Get("select"))
		}
		_, _ = io.WriteString(w, `[
			{"id":"m2","channel_id":"c1","user_id":"u1","content":"second","created_at":"2024-02-29T10:00:01Z","is_edited":false,
			 "author":{"id":"u1","username":"alice"},
			 "thread":[{"parent_message_id":"m2","reply_count":4,"last_reply_at":"2024-02-29T11:00:00Z","participant_count":2}],
			 "reactions":[{"id":"r1","message_id":"m2","user_id":"u2","emoji":"👍","created_at":"2024-02-29T10:05:00Z"}],
			 "attachments":[],
			 "replies":[
				{"id":"x4","user_id":"u2","created_at":"2024-02-29T11:00:00Z","author":{"avatar_url":"a.png"}},
				{"id":"x3","user_id":"u1","created_at":"2024-02-29T10:50:00Z"},
				{"id":"x2","user_id":"u2","created_at":"2024-02-29T10:40:00Z"},
				{"id":"x1","user_id":"u2","created_at":"2024-02-29T10:30:00Z"}
			 ]},
			{"id":"m1","channel_id":"c1","user_id":"u2","content":null,"created_at":"2024-02-29T10:00:00Z","is_edited":false,
			 "author":null,"thread":null,"reactions":[],"attachments":[],"replies":[]}
		]`)
	})

	messages, err := store.FetchRootMessages(context.Background(), "c1", &before, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("expected ascending order, got %+v", messages)
	}
	if messages[0].Content != nil || messages[0].Author.DisplayName() != types.UnknownUsername {
		t.Fatalf("expected attachment-only message with unknown author: %+v", messages[0])
	}
	second := messages[1]
	if second.Thread == nil || second.Thread.ReplyCount != 4 {
		t.Fatalf("expected thread summary from array embed, got %+v", second.Thread)
	}
	if len(second.Replies) != types.ReplyPreviewLimit || second.Replies[0].ID != "x2" || second.Replies[2].ID != "x4" {
		t.Fatalf("unexpected reply previews %+v", second.Replies)
	}
	if second.Replies[2].AvatarURL == nil || *second.Replies[2].AvatarURL != "a.png" {
		t.Fatalf("expected avatar on newest preview")
	}
	if len(second.Reactions) != 1 || second.Author.DisplayName() != "alice" {
		t.Fatalf("unexpected hydration %+v", second)
	}
}

func TestInsertMessageRejectsNestedReply(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s", r.Method)
		}
		_, _ = io.WriteString(w, `[{"id":"reply","channel_id":"c1","parent_id":"root","user_id":"u1","created_at":"2024-01-01T00:00:00Z"}]`)
	})
	parent := "reply"
	content := "nested"
	_, err := store.InsertMessage(context.Background(), types.NewMessage{ChannelID: "c1", UserID: "u1", Content: &content, ParentID: &parent})
	if !errors.Is(err, core.ErrNestedReply) {
		t.Fatalf("expected ErrNestedReply, got %v", err)
	}
}

func TestInsertMessageReturnsRepresentation(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected %s", r.Method)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("unexpected Prefer %q", r.Header.Get("Prefer"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["content"] != "hello" || body["channel_id"] != "c1" || body["parent_id"] != nil {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":"`+body["id"].(string)+`","channel_id":"c1","user_id":"u1","content":"hello","created_at":"2024-01-01T00:00:00Z","author":{"id":"u1","username":"alice"}}]`)
	})
	content := "hello"
	msg, err := store.InsertMessage(context.Background(), types.NewMessage{ChannelID: "c1", UserID: "u1", Content: &content})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if msg.ID == "" || msg.Text() != "hello" || msg.Author.DisplayName() != "alice" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Reactions == nil || msg.Attachments == nil {
		t.Fatal("expected empty, non-nil hydrated slices")
	}
}

func TestPatchMessageMapsEmptyResultToNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "eq.gone" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		_, _ = io.WriteString(w, `[]`)
	})
	err := store.UpdateMessageContent(context.Background(), "gone", "bar", time.Now())
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23503","message":"violates foreign key constraint"}`)
	})
	err := store.JoinChannel(context.Background(), "missing", "u1")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected fk violation to map to ErrNotFound, got %v", err)
	}

	_, err = store.GetProfile(context.Background(), "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "23503" {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestListChannelsHidesForeignPrivateChannels(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/channels":
			_, _ = io.WriteString(w, `[
				{"id":"c1","workspace_id":"w","name":"general","type":"public","created_at":"2024-01-01T00:00:00Z"},
				{"id":"c2","workspace_id":"w","name":"secret","type":"private","created_at":"2024-01-01T00:00:00Z"},
				{"id":"c3","workspace_id":"w","name":"team","type":"private","created_at":"2024-01-01T00:00:00Z"}
			]`)
		case "/rest/v1/channel_members":
			if r.URL.Query().Get("user_id") != "eq.u1" {
				t.Errorf("unexpected member filter %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `[{"channel_id":"c3"}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	channels, err := store.ListChannels(context.Background(), "w", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "general" || channels[1].Name != "team" {
		t.Fatalf("unexpected channels %+v", channels)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("content"); got != `ilike.*100\%*` {
			t.Errorf("unexpected content filter %q", got)
		}
		_, _ = io.WriteString(w, `[{"id":"m1","channel_id":"c1","user_id":"u1","content":"100% done","created_at":"2024-01-01T00:00:00Z","channel":{"name":"general"}}]`)
	})
	results, err := store.SearchMessages(context.Background(), "w", "100%", core.SearchLimit)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ChannelName != "general" {
		t.Fatalf("unexpected results %+v", results)
	}
}
