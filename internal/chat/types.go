package chat

import (
	"fmt"
	"sort"
	"time"
)

// UnknownUsername is used wherever an author is missing from the user directory.
const UnknownUsername = "Unknown"

// Message is the canonical relational record of a chat message.
type Message struct {
	ID                 string     `json:"id"`
	ChannelID          string     `json:"channel_id"`
	UserID             string     `json:"user_id"`
	Content            string     `json:"content"`
	Timestamp          time.Time  `json:"timestamp"`
	EditedTimestamp    *time.Time `json:"edited_timestamp,omitempty"`
	ReferenceMessageID *string    `json:"reference_message_id,omitempty"`
	MentionUserIDs     []string   `json:"mention_user_ids,omitempty"`
	MentionRoleIDs     []string   `json:"mention_role_ids,omitempty"`

	// HasAttachments is fixed at creation.
	HasAttachments bool `json:"has_attachments"`

	// IsVectorized mirrors the existence of a vector entry with the same ID.
	// Only the coordinator sets it.
	IsVectorized bool `json:"is_vectorized"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields every stored message must carry.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	case m.ChannelID == "":
		return fmt.Errorf("%w: channel id is required", ErrInvalidInput)
	case m.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	case m.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}
	return nil
}

// User is an entry of the user directory.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// UserPatch is a partial update of a user. Nil fields are left untouched.
type UserPatch struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Username == nil && p.DisplayName == nil && p.AvatarURL == nil
}

// Inbound is a message event as delivered by the upstream chat source,
// together with the author details used to keep the user directory complete.
type Inbound struct {
	Message
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// Author returns the user record implied by the event.
func (in Inbound) Author() User {
	return User{
		ID:          in.UserID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
	}
}

// RecentMessage is one line of the recent-conversation window.
type RecentMessage struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeIDs returns a sorted, de-duplicated copy of a mention set.
func NormalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
