package models

import (
	"strings"
	"time"
)

// Member is a participant referenced by one or more groups.
type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Group is a membership circle that content is broadcast into.
type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	InviteCode   string    `json:"inviteCode"`
	Members      []Member  `json:"members"`
	ContentCount int64     `json:"contentCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasMember reports whether memberID is part of the group.
func (g Group) HasMember(memberID string) bool {
	for _, m := range g.Members {
		if m.ID == memberID {
			return true
		}
	}
	return false
}

// MediaKind identifies what a captured artifact is intended to be delivered as.
type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether k is a supported media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindPhoto, MediaKindVideo:
		return true
	default:
		return false
	}
}

// MediaDescriptor points at a locally captured artifact awaiting upload.
type MediaDescriptor struct {
	SourceURI   string    `json:"sourceUri"`
	Kind        MediaKind `json:"kind"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
}

// Present reports whether the descriptor references any media at all.
func (m MediaDescriptor) Present() bool {
	return strings.TrimSpace(m.SourceURI) != ""
}

// ContentRecord is a message created in a group after a successful delivery.
type ContentRecord struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	SenderID  string    `json:"senderId"`
	MediaURL  string    `json:"mediaUrl"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
