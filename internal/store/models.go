package store

import "context"

// Character is a persona that can take part in chats.
// At most one Character per World has IsPlayer set.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Persona     string `json:"persona"`
	Greeting    string `json:"greeting"`
	Personality string `json:"personality"`
	Background  string `json:"background"`
	AvatarURL   string `json:"avatarUrl"`
	IsPlayer    bool   `json:"isPlayer"`
	IsPublic    bool   `json:"isPublic"`
	AllowEdit   bool   `json:"allowEdit"`
}

func (c *Character) Key() string      { return c.ID }
func (c *Character) SetKey(id string) { c.ID = id }

func (c *Character) Clone() *Character {
	cp := *c
	return &cp
}

// Group is an ordered set of characters chatting together.
type Group struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	AvatarURL    string   `json:"avatarUrl"`
	CharacterIDs []string `json:"characterIds"`
	IsPrivate    bool     `json:"isPrivate"`
	AllowInvites bool     `json:"allowInvites"`
}

func (g *Group) Key() string      { return g.ID }
func (g *Group) SetKey(id string) { g.ID = id }

func (g *Group) Clone() *Group {
	cp := *g
	cp.CharacterIDs = append([]string{}, g.CharacterIDs...)
	return &cp
}

// WorldbookEntry is a lore record injected into context when one of its
// keywords shows up in conversation text. Keywords is a comma separated
// list; both ',' and the full-width '，' are accepted.
type WorldbookEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Keywords  string `json:"keywords"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (w *WorldbookEntry) Key() string      { return w.ID }
func (w *WorldbookEntry) SetKey(id string) { w.ID = id }

func (w *WorldbookEntry) Clone() *WorldbookEntry {
	cp := *w
	return &cp
}

// ChatMessage is a single line of chat history.
type ChatMessage struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	Role          string `json:"role"` // "user", "assistant", "system"
	CharacterName string `json:"characterName"`
	Content       string `json:"content"`
	Timestamp     int64  `json:"timestamp"` // unix millis
}

// Config is the single per-world settings record.
type Config struct {
	APIKey string `json:"apiKey"`
	APIURL string `json:"apiUrl"`
	Model  string `json:"model"`
}

// VectorRecord is the embedding companion of a ChatMessage.
type VectorRecord struct {
	MessageID     string    `json:"messageId"`
	Content       string    `json:"content"`
	CharacterName string    `json:"characterName"`
	Role          string    `json:"role"`
	Timestamp     int64     `json:"timestamp"`
	SessionID     string    `json:"sessionId"`
	Vector        []float32 `json:"vector"`
}

// VectorMatch is a VectorRecord returned by a nearest-neighbour query.
// Distance is the cosine distance to the query; lower is closer.
type VectorMatch struct {
	VectorRecord
	Distance float64 `json:"distance"`
}

// Snapshot is the canonical content of a World: every collection except
// the derived vectors.
type Snapshot struct {
	Characters   []*Character      `json:"characters"`
	Groups       []*Group          `json:"groups"`
	Worldbooks   []*WorldbookEntry `json:"worldbooks"`
	ChatMessages []*ChatMessage    `json:"chatMessages"`
	Config       Config            `json:"config"`
}

// Storer defines the interface for a single World's persistence.
// SQLiteStore is the sole implementation. Read methods return (nil, nil)
// when the record does not exist.
type Storer interface {
	// Characters
	UpsertCharacter(ctx context.Context, c *Character) error
	GetCharacter(ctx context.Context, id string) (*Character, error)
	ListCharacters(ctx context.Context) ([]*Character, error)
	DeleteCharacter(ctx context.Context, id string, dropEmptyGroups bool) (*CharacterRemoval, error)

	// Groups
	UpsertGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	DeleteGroup(ctx context.Context, id string) error

	// Worldbooks
	UpsertWorldbook(ctx context.Context, w *WorldbookEntry) error
	GetWorldbook(ctx context.Context, id string) (*WorldbookEntry, error)
	ListWorldbooks(ctx context.Context) ([]*WorldbookEntry, error)
	DeleteWorldbook(ctx context.Context, id string) error

	// Config
	LoadConfig(ctx context.Context) (Config, error)
	SaveConfig(ctx context.Context, cfg Config) error

	// Chat history
	AddMessage(ctx context.Context, msg *ChatMessage) error
	GetMessage(ctx context.Context, id string) (*ChatMessage, error)
	GetChatHistory(ctx context.Context, sessionID string) ([]*ChatMessage, error)
	ListAllMessages(ctx context.Context) ([]*ChatMessage, error)
	ListSessions(ctx context.Context) ([]string, error)
	DeleteChatHistory(ctx context.Context, sessionID string) error

	// Vector collection
	OpenVectorIndex(ctx context.Context, collection, field string, version int) (*VectorIndex, error)

	// Whole-world snapshot (import/export)
	Export(ctx context.Context) (*Snapshot, error)
	Import(ctx context.Context, snap *Snapshot) error

	// Lifecycle
	SchemaVersion() int
	Path() string
	Close() error
}

// CharacterRemoval reports the group fix-up performed by DeleteCharacter.
type CharacterRemoval struct {
	UpdatedGroups []*Group // groups that still exist, with the id removed
	DeletedGroups []string // groups removed because they became empty
}
