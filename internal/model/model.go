package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker that produced a message.
type Role string

const (
	RoleRoot      Role = "root"
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SharePermission is a grant level recorded in the share ledger.
type SharePermission string

const (
	PermissionRead   SharePermission = "read"
	PermissionBranch SharePermission = "branch"
	PermissionFork   SharePermission = "fork"
)

func (p SharePermission) Valid() bool {
	switch p {
	case PermissionRead, PermissionBranch, PermissionFork:
		return true
	default:
		return false
	}
}

// Conversation is the header row for a message tree.
type Conversation struct {
	ID                     uuid.UUID  `json:"id"                               gorm:"primaryKey;type:uuid"`
	Title                  string     `json:"title"                            gorm:"not null"`
	Description            string     `json:"description"                      gorm:"not null;default:''"`
	CreatedBy              string     `json:"createdBy"                        gorm:"not null"`
	Public                 bool       `json:"public"                           gorm:"not null;default:false"`
	ForkFromConversationID *uuid.UUID `json:"forkFromConversationId,omitempty" gorm:"type:uuid"`
	ForkFromMessageID      *uuid.UUID `json:"forkFromMessageId,omitempty"      gorm:"type:uuid"`
	CreatedAt              time.Time  `json:"createdAt"                        gorm:"not null;default:now()"`
	UpdatedAt              time.Time  `json:"updatedAt"                        gorm:"not null;default:now()"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is a node in a conversation's tree. Content is persisted as the
// triple (content_type, content_data, content_metadata); encoding/decoding
// the typed payload variants is the content codec's job, not the model's.
type Message struct {
	ConversationID  uuid.UUID         `json:"conversationId"         gorm:"primaryKey;type:uuid"`
	ID              uuid.UUID         `json:"id"                     gorm:"primaryKey;type:uuid"`
	ParentMessageID *uuid.UUID        `json:"parentMessageId"        gorm:"type:uuid"`
	Role            Role              `json:"role"                   gorm:"not null"`
	ContentType     string            `json:"contentType"            gorm:"not null"`
	ContentData     string            `json:"contentData"            gorm:"type:text;not null"`
	ContentMetadata map[string]string `json:"contentMetadata"        gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	Lineage         UUIDList          `json:"lineage"                gorm:"type:jsonb;serializer:json;not null"`
	Depth           int               `json:"depth"                  gorm:"not null"`
	CreatedAt       time.Time         `json:"createdAt"              gorm:"not null;default:now()"`
	CreatedBy       string            `json:"createdBy"              gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// UUIDList is a JSON-serializable ordered list of message identifiers.
type UUIDList []uuid.UUID

// MessageChild is the denormalized child-index row that makes "children of
// this message" a single-partition range read instead of a scan.
type MessageChild struct {
	ConversationID  uuid.UUID `json:"conversationId"  gorm:"primaryKey;type:uuid"`
	ParentMessageID uuid.UUID `json:"parentMessageId" gorm:"primaryKey;type:uuid"`
	MessageID       uuid.UUID `json:"messageId"       gorm:"primaryKey;type:uuid"`
}

func (MessageChild) TableName() string { return "message_children" }

// Branch is a named pointer at the current tip of a line of development.
type Branch struct {
	ID             uuid.UUID `json:"id"             gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `json:"conversationId" gorm:"not null;type:uuid"`
	Name           string    `json:"name"           gorm:"not null"`
	LeafMessageID  uuid.UUID `json:"leafMessageId"  gorm:"not null;type:uuid"`
	IsActive       bool      `json:"isActive"       gorm:"not null;default:true"`
	CreatedBy      string    `json:"createdBy"      gorm:"not null"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"not null;default:now()"`
	UpdatedAt      time.Time `json:"updatedAt"      gorm:"not null;default:now()"`
}

func (Branch) TableName() string { return "branches" }

// Share is a permission grant on a conversation to a user, keyed by
// (conversation_id, grantee).
type Share struct {
	ConversationID uuid.UUID       `json:"conversationId" gorm:"primaryKey;type:uuid"`
	Grantee        string          `json:"grantee"        gorm:"primaryKey"`
	Permission     SharePermission `json:"permission"     gorm:"not null"`
	GrantedBy      string          `json:"grantedBy"      gorm:"not null"`
	GrantedAt      time.Time       `json:"grantedAt"      gorm:"not null;default:now()"`
}

func (Share) TableName() string { return "shares" }

// ShareByUser is the reverse index of Share, keyed by grantee, so
// "conversations shared with user X" is also a single-partition read.
// Writes to Share update both sides; if the reverse-side write fails, the
// Share row stands and the postgres store's GrantShare returns an error (a
// re-grant writes the reverse row again).
type ShareByUser struct {
	Grantee        string          `json:"grantee"        gorm:"primaryKey"`
	ConversationID uuid.UUID       `json:"conversationId" gorm:"primaryKey;type:uuid"`
	Permission     SharePermission `json:"permission"     gorm:"not null"`
	GrantedBy      string          `json:"grantedBy"      gorm:"not null"`
	GrantedAt      time.Time       `json:"grantedAt"      gorm:"not null;default:now()"`
}

func (ShareByUser) TableName() string { return "shares_by_user" }
