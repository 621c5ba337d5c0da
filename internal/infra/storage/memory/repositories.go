package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain/chat"
)

var (
	ErrUserNotFound         = errors.New("memory: user not found")
	ErrEmailTaken           = errors.New("memory: email already registered")
	ErrConversationNotFound = errors.New("memory: conversation not found")
	ErrUploadNotFound       = errors.New("memory: upload not found")
)

// Account is a registered user together with their password hash.
type Account struct {
	User         chat.User
	PasswordHash string
}

// UserRepository is the stub backend's account table. Emails are unique
// case-insensitively.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (r *UserRepository) Create(_ context.Context, name, email, passwordHash string) (Account, error) {
	key := normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[key]; taken {
		return Account{}, ErrEmailTaken
	}
	acc := Account{
		User:         chat.User{ID: uuid.NewString(), Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)},
		PasswordHash: passwordHash,
	}
	r.byID[acc.User.ID] = acc
	r.byEmail[key] = acc.User.ID
	return acc, nil
}

func (r *UserRepository) ByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.byID[id]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return acc, nil
}

func (r *UserRepository) ByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return r.byID[id], nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// stored conversations keep member ids only; handlers resolve the users.
type conversationRecord struct {
	id      string
	kind    chat.Kind
	name    string
	members []string
}

type ConversationRepository struct {
	mu    sync.RWMutex
	items map[string]conversationRecord
	order []string
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{items: make(map[string]conversationRecord)}
}

// Create stores a conversation and returns its id. A direct conversation
// between the same two users is created only once.
func (r *ConversationRepository) Create(_ context.Context, kind chat.Kind, name string, members []string) (string, error) {
	members = uniq(members)
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == chat.KindDirect {
		for _, id := range r.order {
			rec := r.items[id]
			if rec.kind == chat.KindDirect && sameMembers(rec.members, members) {
				return rec.id, nil
			}
		}
	}
	rec := conversationRecord{id: uuid.NewString(), kind: kind, name: strings.TrimSpace(name), members: members}
	r.items[rec.id] = rec
	r.order = append(r.order, rec.id)
	return rec.id, nil
}

// Members returns the member ids of a conversation.
func (r *ConversationRepository) Members(_ context.Context, id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return slices.Clone(rec.members), nil
}

// ForMember lists conversations containing userID in creation order, with
// members carrying ids only.
func (r *ConversationRepository) ForMember(_ context.Context, userID string) ([]chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []chat.Conversation
	for _, id := range r.order {
		rec := r.items[id]
		if !slices.Contains(rec.members, userID) {
			continue
		}
		conv := chat.Conversation{ID: rec.id, Kind: rec.kind, Name: rec.name}
		for _, m := range rec.members {
			conv.Members = append(conv.Members, chat.User{ID: m})
		}
		out = append(out, conv)
	}
	return out, nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}

func uniq(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

type MessageRepository struct {
	mu    sync.RWMutex
	items map[string][]chat.Message
	now   func() time.Time
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{items: make(map[string][]chat.Message), now: time.Now}
}

// Append assigns the id and timestamp and stores the message.
func (r *MessageRepository) Append(_ context.Context, m chat.Message) (chat.Message, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[m.ConversationID] = append(r.items[m.ConversationID], m)
	return m, nil
}

func (r *MessageRepository) List(_ context.Context, conversationID string) ([]chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.items[conversationID]), nil
}

// Upload is a stored image blob.
type Upload struct {
	ContentType string
	Data        []byte
}

type UploadRepository struct {
	mu    sync.RWMutex
	items map[string]Upload
}

func NewUploadRepository() *UploadRepository {
	return &UploadRepository{items: make(map[string]Upload)}
}

func (r *UploadRepository) Put(_ context.Context, name string, u Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = u
	return nil
}

func (r *UploadRepository) Get(_ context.Context, name string) (Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.items[name]
	if !ok {
		return Upload{}, ErrUploadNotFound
	}
	return u, nil
}
