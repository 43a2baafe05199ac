package services

import (
	"errors"
	"fmt"

	"imagesearch/internal/store"
)

// Expected, caller-recoverable failures. Handlers map them to 4xx codes.
var (
	ErrSourceNotFound  = errors.New("source folder not found")
	ErrNoImagesFound   = errors.New("no images found")
	ErrUnreadableImage = errors.New("unreadable image")
	ErrIndexEmpty      = errors.New("no embedded images: ingest images first")
	ErrInvalidArgument = errors.New("invalid argument")

	ErrDuplicateFilename = store.ErrDuplicateFilename
	ErrImageNotFound     = store.ErrImageNotFound
)

// UnreadableImageError names the file that failed to decode. It matches
// ErrUnreadableImage with errors.Is.
type UnreadableImageError struct {
	Path string
	Err  error
}

func (e *UnreadableImageError) Error() string {
	return fmt.Sprintf("unreadable image %s: %v", e.Path, e.Err)
}

func (e *UnreadableImageError) Unwrap() error { return e.Err }

func (e *UnreadableImageError) Is(target error) bool { return target == ErrUnreadableImage }

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
