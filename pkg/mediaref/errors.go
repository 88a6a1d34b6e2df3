package mediaref

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrUnauthorized indicates the caller does not own the artifact
	ErrUnauthorized = errors.New("caller does not own artifact")

	// ErrArtifactNotFound indicates an artifact was not found
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrMediaNotFound indicates a canonical media record was not found
	ErrMediaNotFound = errors.New("media not found")

	// ErrObjectNotFound indicates an object is missing from storage
	ErrObjectNotFound = errors.New("object not found")

	// ErrAlreadyExists indicates the copy destination is already present
	ErrAlreadyExists = errors.New("object already exists")

	// ErrPathConflict indicates the canonical path is held by a different object
	ErrPathConflict = errors.New("canonical path holds a different object")

	// ErrDuplicateLink indicates a link with the same artifact, role and sort order exists
	ErrDuplicateLink = errors.New("duplicate artifact media link")

	// ErrDuplicateMedia indicates a media record with the same public URL exists
	ErrDuplicateMedia = errors.New("duplicate media public url")

	// ErrLocked indicates another operation holds the artifact
	ErrLocked = errors.New("artifact is locked by another operation")

	// ErrInvalidMapping indicates a URL mapping that chains renames
	ErrInvalidMapping = errors.New("invalid url mapping")
)

// ArtifactError represents an error related to artifact operations
type ArtifactError struct {
	ArtifactID uuid.UUID
	Op         string
	Err        error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact operation %s failed for artifact %s: %v", e.Op, e.ArtifactID, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
