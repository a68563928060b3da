package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ireland-samantha/zia-gateway/internal/persona"
	"github.com/ireland-samantha/zia-gateway/internal/router"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

type fakeSender struct {
	mu      sync.Mutex
	prompts [][]router.Message
	models  []string
	reply   func(n int) (string, error)
	delay   time.Duration
}

func (f *fakeSender) Send(ctx context.Context, messages []router.Message, model string, maxTokens int) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, messages)
	f.models = append(f.models, model)
	n := len(f.prompts)
	f.mu.Unlock()
	return f.reply(n)
}

func (f *fakeSender) lastPrompt() []router.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type flakyStore struct {
	*storage.MemoryStore
	failRecent bool
	failAppend storage.Role
}

func (s *flakyStore) Recent(ctx context.Context, key storage.Key, limit int) ([]storage.Message, error) {
	if s.failRecent {
		return nil, &storage.StoreError{Op: "recent", Key: key, Err: errors.New("disk on fire")}
	}
	return s.MemoryStore.Recent(ctx, key, limit)
}

func (s *flakyStore) Append(ctx context.Context, key storage.Key, role storage.Role, author, content string) (storage.Message, error) {
	if role == s.failAppend {
		return storage.Message{}, &storage.StoreError{Op: "append", Key: key, Err: errors.New("disk full")}
	}
	return s.MemoryStore.Append(ctx, key, role, author, content)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResolver() *persona.Resolver {
	set, err := persona.NewSet(map[string]string{
		"default": "You are ZIA.",
		"pirate":  "Arr.",
	})
	if err != nil {
		panic(err)
	}
	r, err := persona.NewResolver(set, []persona.Override{
		{Platform: "discord", Match: "42", Persona: "pirate"},
	}, testLogger())
	if err != nil {
		panic(err)
	}
	return r
}

func echo(n int) (string, error) {
	return fmt.Sprintf("reply %d", n), nil
}

func TestGatewayHandle(t *testing.T) {
	Convey("Given a gateway over a memory store", t, func() {
		ctx := context.Background()
		store := storage.NewMemoryStore(storage.Limits{LogLimit: 6, LoadLimit: 4})
		sender := &fakeSender{reply: echo}
		gw := New(store, testResolver(), sender, Options{Model: "qwen3-v1-4b", MaxTokens: 100, LoadLimit: 4}, testLogger())
		key := storage.Key{Platform: "slack", Channel: "C1"}

		Convey("A successful turn stores the user entry then the assistant entry", func() {
			reply := gw.Handle(ctx, Request{Key: key, Author: "alice", Text: "hello"})

			So(reply.Text, ShouldEqual, "reply 1")
			So(reply.Exhausted, ShouldBeFalse)
			So(reply.Persisted, ShouldBeTrue)
			So(reply.Persona, ShouldEqual, "default")

			msgs, err := store.Recent(ctx, key, 10)
			So(err, ShouldBeNil)
			So(len(msgs), ShouldEqual, 2)
			So(msgs[0].Role, ShouldEqual, storage.RoleUser)
			So(msgs[0].Author, ShouldEqual, "alice")
			So(msgs[0].Content, ShouldEqual, "hello")
			So(msgs[1].Role, ShouldEqual, storage.RoleAssistant)
			So(msgs[1].Content, ShouldEqual, "reply 1")
			So(msgs[0].Timestamp.After(msgs[1].Timestamp), ShouldBeFalse)
		})

		Convey("The prompt is persona, then history, then the new text", func() {
			gw.Handle(ctx, Request{Key: key, Text: "first"})
			gw.Handle(ctx, Request{Key: key, Text: "second"})

			prompt := sender.lastPrompt()
			So(len(prompt), ShouldEqual, 4)
			So(prompt[0], ShouldResemble, router.Message{Role: "system", Content: "You are ZIA."})
			So(prompt[1], ShouldResemble, router.Message{Role: "user", Content: "first"})
			So(prompt[2], ShouldResemble, router.Message{Role: "assistant", Content: "reply 1"})
			So(prompt[3], ShouldResemble, router.Message{Role: "user", Content: "second"})
			So(sender.models[1], ShouldEqual, "qwen3-v1-4b")
		})

		Convey("History in the prompt is bounded by the load limit", func() {
			for i := 0; i < 5; i++ {
				gw.Handle(ctx, Request{Key: key, Text: fmt.Sprintf("msg %d", i)})
			}

			prompt := sender.lastPrompt()
			So(len(prompt), ShouldEqual, 1+4+1)
			So(prompt[1].Content, ShouldEqual, "msg 2")

			msgs, _ := store.Recent(ctx, key, 100)
			So(len(msgs), ShouldEqual, 6)
		})

		Convey("Platform overrides choose the persona", func() {
			reply := gw.Handle(ctx, Request{Key: storage.Key{Platform: "discord", Channel: "42"}, Text: "ahoy"})

			So(reply.Persona, ShouldEqual, "pirate")
			So(sender.lastPrompt()[0].Content, ShouldEqual, "Arr.")
		})

		Convey("When every endpoint fails", func() {
			sender.reply = func(int) (string, error) {
				return router.Sentinel, fmt.Errorf("%w: boom", router.ErrExhausted)
			}
			reply := gw.Handle(ctx, Request{Key: key, Text: "hello"})

			Convey("the sentinel is returned and nothing is stored", func() {
				So(reply.Text, ShouldEqual, router.Sentinel)
				So(reply.Exhausted, ShouldBeTrue)
				So(reply.Persisted, ShouldBeFalse)

				msgs, _ := store.Recent(ctx, key, 10)
				So(len(msgs), ShouldEqual, 0)
			})
		})

		Convey("Other sender errors also store nothing", func() {
			sender.reply = func(int) (string, error) { return "", errors.New("unexpected") }
			reply := gw.Handle(ctx, Request{Key: key, Text: "hello"})

			So(reply.Text, ShouldEqual, router.Sentinel)
			So(reply.Exhausted, ShouldBeFalse)
			So(store.Len(), ShouldEqual, 0)
		})

		Convey("Reset clears the conversation", func() {
			gw.Handle(ctx, Request{Key: key, Text: "hello"})
			So(gw.Reset(ctx, key), ShouldBeNil)

			msgs, err := gw.History(ctx, key, 0)
			So(err, ShouldBeNil)
			So(len(msgs), ShouldEqual, 0)
		})
	})
}

func TestGatewayStoreFailures(t *testing.T) {
	Convey("Given a store that misbehaves", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: storage.NewMemoryStore(storage.DefaultLimits)}
		sender := &fakeSender{reply: echo}
		gw := New(store, testResolver(), sender, Options{Model: "m", MaxTokens: 100, LoadLimit: 10}, testLogger())
		key := storage.Key{Platform: "web", User: "bob", Channel: "1"}

		Convey("An unreadable history degrades to an empty one", func() {
			store.MemoryStore.Append(ctx, key, storage.RoleUser, "", "old")
			store.failRecent = true

			reply := gw.Handle(ctx, Request{Key: key, Text: "hello"})

			So(reply.Text, ShouldEqual, "reply 1")
			So(len(sender.lastPrompt()), ShouldEqual, 2)
			So(reply.Persisted, ShouldBeTrue)
		})

		Convey("A failed assistant append marks the turn unpersisted", func() {
			store.failAppend = storage.RoleAssistant

			reply := gw.Handle(ctx, Request{Key: key, Text: "hello"})

			So(reply.Text, ShouldEqual, "reply 1")
			So(reply.Persisted, ShouldBeFalse)
		})

		Convey("A failed user append skips the assistant append", func() {
			store.failAppend = storage.RoleUser

			reply := gw.Handle(ctx, Request{Key: key, Text: "hello"})

			So(reply.Persisted, ShouldBeFalse)
			msgs, _ := store.MemoryStore.Recent(ctx, key, 10)
			So(len(msgs), ShouldEqual, 0)
		})
	})
}

func TestGatewaySerializesSameKey(t *testing.T) {
	Convey("Concurrent turns on one key", t, func() {
		ctx := context.Background()
		store := storage.NewMemoryStore(storage.Limits{LogLimit: 100, LoadLimit: 100})
		sender := &fakeSender{reply: echo, delay: 10 * time.Millisecond}
		gw := New(store, testResolver(), sender, Options{Model: "m", MaxTokens: 100, LoadLimit: 100}, testLogger())
		key := storage.Key{Platform: "slack", Channel: "busy"}

		const turns = 5
		var wg sync.WaitGroup
		for i := 0; i < turns; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				gw.Handle(ctx, Request{Key: key, Text: fmt.Sprintf("msg %d", i)})
			}(i)
		}
		wg.Wait()

		Convey("lose no entries and never interleave", func() {
			msgs, _ := store.Recent(ctx, key, 100)
			So(len(msgs), ShouldEqual, 2*turns)
			for i := 0; i < len(msgs); i += 2 {
				So(msgs[i].Role, ShouldEqual, storage.RoleUser)
				So(msgs[i+1].Role, ShouldEqual, storage.RoleAssistant)
			}

			// Each turn saw every earlier turn in its prompt.
			sizes := map[int]bool{}
			for _, p := range sender.prompts {
				sizes[len(p)] = true
			}
			for i := 0; i < turns; i++ {
				So(sizes[2+2*i], ShouldBeTrue)
			}
		})
	})

	Convey("Turns on different keys run in parallel", t, func() {
		ctx := context.Background()
		store := storage.NewMemoryStore(storage.DefaultLimits)
		sender := &fakeSender{reply: echo, delay: 100 * time.Millisecond}
		gw := New(store, testResolver(), sender, Options{Model: "m", MaxTokens: 100, LoadLimit: 10}, testLogger())

		start := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				gw.Handle(ctx, Request{Key: storage.Key{Platform: "slack", Channel: fmt.Sprintf("C%d", i)}, Text: "hi"})
			}(i)
		}
		wg.Wait()

		So(time.Since(start) < 350*time.Millisecond, ShouldBeTrue)
		So(store.Len(), ShouldEqual, 4)
	})
}

func TestBuildPromptDropsStoredSystemEntries(t *testing.T) {
	p := persona.Persona{Name: "default", Role: "system", Content: "You are ZIA."}
	history := []storage.Message{
		{Role: storage.RoleSystem, Content: "stale persona"},
		{Role: storage.RoleUser, Content: "hi"},
	}

	got := buildPrompt(p, history, "again")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Content != "You are ZIA." || got[1].Content != "hi" || got[2].Content != "again" {
		t.Fatalf("unexpected prompt %+v", got)
	}
}

func TestHandleFinishesAfterCallerCancels(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer endpoint.Close()

	rt := router.New([]router.Backend{router.NewHTTPBackend(endpoint.URL, "", nil)}, time.Second, testLogger())
	store := storage.NewMemoryStore(storage.DefaultLimits)
	gw := New(store, testResolver(), rt, Options{Model: "m", MaxTokens: 10, LoadLimit: 10}, testLogger())
	key := storage.Key{Platform: "web", User: "alice", Channel: "1"}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	reply := gw.Handle(ctx, Request{Key: key, Author: "alice", Text: "hi"})
	if reply.Exhausted || reply.Text != "hello" || !reply.Persisted {
		t.Fatalf("expected the turn to complete, got %+v", reply)
	}

	msgs, err := store.Recent(context.Background(), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Fatalf("expected both entries stored, got %+v", msgs)
	}
}
