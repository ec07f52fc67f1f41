package kick

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/intercept"
)

type fakeClient struct {
	mu       sync.Mutex
	joined   []int
	joinErr  error
	messages chan kickchat.ChatMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: make(chan kickchat.ChatMessage, 4), closed: make(chan struct{})}
}

func (c *fakeClient) JoinChannelByID(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, id)
	return c.joinErr
}

func (c *fakeClient) Messages() <-chan kickchat.ChatMessage { return c.messages }

func (c *fakeClient) Close() { c.once.Do(func() { close(c.closed) }) }

type collectSink struct {
	envs chan host.Envelope
}

func (s *collectSink) Publish(_ context.Context, env host.Envelope) error {
	s.envs <- env
	return nil
}

func newTestScraper(client *fakeClient, chatrooms map[string]int) (*Scraper, *collectSink) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &collectSink{envs: make(chan host.Envelope, 16)}
	clk := clock.Fake(time.UnixMilli(1700000000000))
	s := New(intercept.NewPort(logger), host.NewDispatcher(ScraperID, sink, clk), Options{
		Chatrooms: chatrooms,
		Dial:      func() (ChatClient, error) { return client, nil },
		Clock:     clk,
		Logger:    logger,
	})
	return s, sink
}

func chatMessage(chatroomID, senderID int, username, content string) kickchat.ChatMessage {
	var msg kickchat.ChatMessage
	msg.ChatroomID = chatroomID
	msg.Sender.ID = senderID
	msg.Sender.Username = username
	msg.Content = content
	msg.CreatedAt = sentAt
	return msg
}

func TestScraperInitWithConfiguredChatroom(t *testing.T) {
	client := newFakeClient()
	s, sink := newTestScraper(client, map[string]int{"xqc": 668})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fields, err := s.Init(ctx, "https://kick.com/xqc")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if fields["channelId"] != "668" || fields["channelName"] != "xqc" {
		t.Errorf("fields = %v", fields)
	}
	if len(client.joined) != 1 || client.joined[0] != 668 {
		t.Errorf("joined = %v", client.joined)
	}

	client.messages <- chatMessage(999, 1, "stranger", "wrong room")
	client.messages <- chatMessage(668, 1234, "SomeViewer", "hello [emote:37226:KEKW]")

	select {
	case env := <-sink.envs:
		if env.Type != "message" || env.ScraperID != ScraperID {
			t.Fatalf("envelope = %s from %s", env.Type, env.ScraperID)
		}
		if got := env.String("messageText"); got != "hello KEKW" {
			t.Errorf("messageText = %q", got)
		}
		if got := env.String("authorId"); got != "1234" {
			t.Errorf("authorId = %q", got)
		}
		if env.Timestamp != sentAt.UnixMilli() {
			t.Errorf("timestamp = %d", env.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message envelope")
	}

	cancel()
	select {
	case <-client.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed after cancel")
	}
}

func TestScraperDoneWhenChatCloses(t *testing.T) {
	client := newFakeClient()
	s, _ := newTestScraper(client, map[string]int{"xqc": 668})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := s.Init(ctx, "https://kick.com/xqc"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	close(client.messages)
	select {
	case err := <-s.Done():
		if !errors.Is(err, ErrChatClosed) {
			t.Fatalf("Done = %v, want ErrChatClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Done did not fire after the chat closed")
	}
	select {
	case <-client.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed")
	}
}

func TestScraperInitJoinFailure(t *testing.T) {
	client := newFakeClient()
	client.joinErr = errors.New("pusher refused")
	s, _ := newTestScraper(client, map[string]int{"xqc": 668})

	if _, err := s.Init(context.Background(), "https://kick.com/xqc"); err == nil {
		t.Fatal("expected join failure")
	}
	select {
	case <-client.closed:
	default:
		t.Error("client left open after failed join")
	}
}

func TestScraperRejectsOtherPages(t *testing.T) {
	s, _ := newTestScraper(newFakeClient(), nil)
	if _, err := s.Init(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err == nil {
		t.Fatal("expected an error")
	}
}
