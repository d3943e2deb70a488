package domain

import (
	"io"
)

type Category string

const (
	CategoryUpload      Category = "upload"
	CategoryDownload    Category = "download"
	CategoryGallerySync Category = "gallery-sync"
)

type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusActive    TaskStatus = "active"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task in this status can never transition again.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one queued, independently progress-tracked unit of work,
// usually one file transfer. Exactly one of Upload/Download is set,
// matching Category.
type Task struct {
	ID       string     `json:"id"`
	Category Category   `json:"category"`
	Status   TaskStatus `json:"status"`
	Name     string     `json:"name"`
	Size     int64      `json:"size"`
	Progress float64    `json:"progress"`
	Error    string     `json:"error,omitempty"`

	Upload   *UploadSpec   `json:"upload,omitempty"`
	Download *DownloadSpec `json:"download,omitempty"`
}

// UploadSpec describes the local source of an upload task.
type UploadSpec struct {
	SourceURI string `json:"source_uri"`
	MediaType string `json:"media_type"`
	ChunkSize int64  `json:"chunk_size"`
}

// DownloadSpec describes the remote file a download task reassembles.
type DownloadSpec struct {
	RemoteFileID string `json:"remote_file_id"`
	TargetPath   string `json:"target_path"`
}

// UploadRequest and DownloadRequest are the external descriptors the
// queue manager builds tasks from.
type UploadRequest struct {
	Name      string
	Size      int64
	SourceURI string
	MediaType string
	ChunkSize int64
}

type DownloadRequest struct {
	Name         string
	Size         int64
	RemoteFileID string
	TargetPath   string
}

// ChunkPayload is what the remote transfer primitive moves in one request:
// one contiguous byte range of a file plus its target media type. The body
// reader is only valid for the duration of the call.
type ChunkPayload struct {
	TaskID    string
	Index     int
	Offset    int64
	Length    int64
	MediaType string
	Digest    string
	Body      io.Reader
}
