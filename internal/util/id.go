package util

import "github.com/google/uuid"

// NewID returns a random UUID string, used for every persisted row.
func NewID() string {
	return uuid.NewString()
}

// ObjectKey builds the blob storage key for a file's contents.
func ObjectKey(fileID string) string {
	return "files/" + fileID
}
