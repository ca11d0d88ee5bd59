package redis

import (
	"testing"
	"time"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testSession(pin, quizAddress string) *app.Session {
	return app.NewSession(pin, domain.Quiz{
		Address: quizAddress,
		Name:    "sample",
		Creator: "0xCREATOR",
		Questions: []domain.Question{
			{Prompt: "2 + 2?", Options: []string{"3", "4"}, Correct: 1},
		},
	}, app.Options{})
}

func TestReserveSetsReservationKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute)

	if !store.Reserve("123456", testSession("123456", "0xquiz")) {
		t.Fatalf("expected reserve to succeed")
	}
	if !mr.Exists("quiz:session:123456") {
		t.Fatalf("expected reservation key in redis")
	}

	store.Delete("123456")
	if mr.Exists("quiz:session:123456") {
		t.Fatalf("expected reservation key removed")
	}
}

func TestReserveLosesToForeignReservation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute)

	// Another instance already holds the pin.
	mr.Set("quiz:session:123456", "0xother")

	if store.Reserve("123456", testSession("123456", "0xquiz")) {
		t.Fatalf("expected reserve to lose against existing key")
	}
	if _, ok := store.Get("123456"); ok {
		t.Fatalf("lost reservation must not be stored locally")
	}
}

func TestLocalIndexesTrackSessions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute)
	session := testSession("654321", "0xquiz")
	if !store.Reserve("654321", session) {
		t.Fatalf("expected reserve to succeed")
	}

	if got, ok := store.Get("654321"); !ok || got != session {
		t.Fatalf("expected session by pin")
	}
	if got, ok := store.FindByQuiz("0xquiz"); !ok || got != session {
		t.Fatalf("expected session by quiz address")
	}

	store.Delete("654321")
	if _, ok := store.FindByQuiz("0xquiz"); ok {
		t.Fatalf("expected quiz index cleared")
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
