package memory

import (
	"context"
	"errors"
	"testing"

	"messenger/internal/domain/chat"
)

func TestUserRepositoryEmailsAreUnique(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository()
	alice, err := users.Create(ctx, "Alice", "Alice@Example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := users.Create(ctx, "Other", "alice@example.com ", "x"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email: %v", err)
	}
	got, err := users.ByEmail(ctx, "ALICE@example.com")
	if err != nil || got.User.ID != alice.User.ID {
		t.Fatalf("by email: %+v %v", got, err)
	}
	if _, err := users.ByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("by id: %v", err)
	}
}

func TestConversationRepositoryDedupesDirectChats(t *testing.T) {
	ctx := context.Background()
	convs := NewConversationRepository()
	first, _ := convs.Create(ctx, chat.KindDirect, "", []string{"u1", "u2"})
	again, _ := convs.Create(ctx, chat.KindDirect, "", []string{"u2", "u1"})
	if first != again {
		t.Fatal("direct chat between the same pair created twice")
	}
	group, _ := convs.Create(ctx, chat.KindGroup, " Team ", []string{"u1", "u3", "u3"})

	list, _ := convs.ForMember(ctx, "u1")
	if len(list) != 2 || list[0].ID != first || list[1].ID != group || list[1].Name != "Team" {
		t.Fatalf("u1 conversations: %+v", list)
	}
	if members, _ := convs.Members(ctx, group); len(members) != 2 {
		t.Fatalf("group members %v", members)
	}
	if list, _ := convs.ForMember(ctx, "u9"); len(list) != 0 {
		t.Fatalf("stranger sees %+v", list)
	}
}

func TestMessageRepositoryAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	msgs := NewMessageRepository()
	m, _ := msgs.Append(ctx, chat.Message{ConversationID: "c1", Text: "hi"})
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("identity not assigned: %+v", m)
	}
	list, _ := msgs.List(ctx, "c1")
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("list: %+v", list)
	}
}
