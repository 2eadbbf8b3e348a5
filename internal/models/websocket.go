package models

import (
	"encoding/json"
	"time"
)

// NotificationType defines live notification message types.
type NotificationType int

const (
	NotifySyncCipherUpdate NotificationType = 0
	NotifySyncCipherCreate NotificationType = 1
	NotifySyncLoginDelete  NotificationType = 2
	NotifySyncFolderDelete NotificationType = 3
	NotifySyncCiphers      NotificationType = 4
	NotifySyncVault        NotificationType = 5
	NotifySyncOrgKeys      NotificationType = 6
	NotifySyncFolderCreate NotificationType = 7
	NotifySyncFolderUpdate NotificationType = 8
	NotifySyncCipherDelete NotificationType = 9
	NotifySyncSettings     NotificationType = 10
	NotifyLogOut           NotificationType = 11
)

// Notification is a message pushed by the notifications endpoint.
type Notification struct {
	Type      NotificationType `json:"type"`
	ContextID string           `json:"contextId,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// SyncPayload is the payload of cipher and folder notifications.
type SyncPayload struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	RevisionDate time.Time `json:"revisionDate"`
}

// TriggersSync reports whether the notification invalidates local data.
func (n Notification) TriggersSync() bool {
	switch n.Type {
	case NotifyLogOut:
		return false
	default:
		return n.Type >= NotifySyncCipherUpdate && n.Type <= NotifySyncSettings
	}
}
