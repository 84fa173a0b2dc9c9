package model

import "strings"

type ArtifactKind string

const (
	ArtifactImage    ArtifactKind = "image"
	ArtifactVideo    ArtifactKind = "video"
	ArtifactLog      ArtifactKind = "log"
	ArtifactDocument ArtifactKind = "document"
	ArtifactFile     ArtifactKind = "file"
)

// Artifact is a non-log output file produced by a job's execution and
// eligible for delivery back to the chat.
type Artifact struct {
	ID        int64
	JobID     string
	Kind      ArtifactKind
	Path      string
	Extension string
	SizeBytes int64
	SHA256    string
}

func KindForExtension(ext string) ArtifactKind {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return ArtifactImage
	case ".mp4", ".webm":
		return ArtifactVideo
	case ".log", ".txt", ".json":
		return ArtifactLog
	case ".pdf":
		return ArtifactDocument
	}
	return ArtifactFile
}
