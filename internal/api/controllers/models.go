package controllers

// UploadItem is one entry of an enqueue-uploads request.
type UploadItem struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SourceURI string `json:"source_uri"`
	MediaType string `json:"media_type"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

type AddUploadsRequest struct {
	Uploads []UploadItem `json:"uploads"`
}

// DownloadItem is one entry of an enqueue-downloads request.
type DownloadItem struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	RemoteFileID string `json:"remote_file_id"`
	TargetPath   string `json:"target_path"`
}

type AddDownloadsRequest struct {
	Downloads []DownloadItem `json:"downloads"`
}

type EnqueuedResponse struct {
	TaskIDs []string `json:"task_ids"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
