package messaging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adalundhe/vaultd/core/activity"
	"github.com/adalundhe/vaultd/core/database"
	verrors "github.com/adalundhe/vaultd/core/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	pool, err := database.Open(filepath.Join(t.TempDir(), "messages.db"), database.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store, err := Open(context.Background(), pool, nil)
	if err != nil {
		t.Fatalf("messaging.Open() error = %v", err)
	}
	return store
}

func TestStore_SendAndReceive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sent, err := store.Send(ctx, "alice", "bob", "done with the bracket yet?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.ID == "" || sent.Acknowledged {
		t.Errorf("sent message = %+v, want an id and unacknowledged", sent)
	}

	messages, err := store.ForRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("ForRecipient() returned %d messages, want 1", len(messages))
	}
	if messages[0].Sender != "alice" || messages[0].Text != "done with the bracket yet?" {
		t.Errorf("message = %+v", messages[0])
	}

	// Not visible to anyone else.
	others, err := store.ForRecipient(ctx, "carol")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(others) != 0 {
		t.Errorf("carol received %d messages, want 0", len(others))
	}
}

func TestStore_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.Send(ctx, "alice", "bob", text); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	messages, err := store.ForRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("ForRecipient() returned %d messages, want 3", len(messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if messages[i].Text != want {
			t.Errorf("messages[%d].Text = %q, want %q", i, messages[i].Text, want)
		}
	}
}

func TestStore_AcknowledgeHidesMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sent, err := store.Send(ctx, "alice", "bob", "ping")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := store.Acknowledge(ctx, sent.ID, "bob"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	messages, err := store.ForRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("acknowledged message still delivered: %v", messages)
	}
}

func TestStore_AcknowledgeWrongRecipient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sent, err := store.Send(ctx, "alice", "bob", "ping")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	err = store.Acknowledge(ctx, sent.ID, "mallory")
	if !verrors.IsKind(err, verrors.KindNotFound) {
		t.Errorf("Acknowledge(wrong recipient) error = %v, want not-found", err)
	}

	// Still pending for the real recipient.
	messages, err := store.ForRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("message count = %d, want 1", len(messages))
	}
}

// The daemon runs the activity log and the message store against one
// database. Opening second must still create the message schema even though
// both subsystems number their migrations from 1.
func TestOpen_SharedPoolWithActivityLog(t *testing.T) {
	ctx := context.Background()

	pool, err := database.Open(filepath.Join(t.TempDir(), "vaultd.db"), database.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	log, err := activity.Open(ctx, pool, nil, nil)
	if err != nil {
		t.Fatalf("activity.Open() error = %v", err)
	}
	t.Cleanup(log.Close)

	store, err := Open(ctx, pool, nil)
	if err != nil {
		t.Fatalf("messaging.Open() on shared pool error = %v", err)
	}

	sent, err := store.Send(ctx, "alice", "bob", "shared pool")
	if err != nil {
		t.Fatalf("Send() over shared pool error = %v", err)
	}

	messages, err := store.ForRecipient(ctx, "bob")
	if err != nil {
		t.Fatalf("ForRecipient() error = %v", err)
	}
	if len(messages) != 1 || messages[0].ID != sent.ID {
		t.Errorf("messages = %+v, want the one just sent", messages)
	}
}

func TestStore_SendValidation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Send(context.Background(), "alice", "bob", "")
	if !verrors.IsKind(err, verrors.KindInvalid) {
		t.Errorf("Send(empty text) error = %v, want invalid", err)
	}
}
