package models

import "time"

type DocumentType string

const (
	DocumentTXT  DocumentType = "txt"
	DocumentPDF  DocumentType = "pdf"
	DocumentDOCX DocumentType = "docx"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "UPLOADED"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusReady      DocumentStatus = "READY"
	StatusFailed     DocumentStatus = "FAILED"
)

type Document struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UploadedBy   string         `json:"uploaded_by,omitempty"`
	FileName     string         `json:"file_name"`
	FileType     DocumentType   `json:"file_type"`
	FileSize     int64          `json:"file_size"`
	Checksum     string         `json:"checksum"`
	Locator      string         `json:"-"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	UploadedAt   time.Time      `json:"uploaded_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	DeletedAt    *time.Time     `json:"-"`
}

type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	CharStart  *int      `json:"char_start,omitempty"`
	CharEnd    *int      `json:"char_end,omitempty"`
	Page       *int      `json:"page,omitempty"`
}

type ChunkResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type DocumentStats struct {
	Total       int   `json:"total"`
	Uploaded    int   `json:"uploaded"`
	Processing  int   `json:"processing"`
	Ready       int   `json:"ready"`
	Failed      int   `json:"failed"`
	TotalChunks int64 `json:"total_chunks"`
	TotalBytes  int64 `json:"total_size"`
}

type Quota struct {
	TenantID            string     `json:"tenant_id"`
	CurrentDocuments    int64      `json:"current_documents"`
	MaxDocuments        int64      `json:"max_documents"`
	CurrentStorageBytes int64      `json:"current_storage_bytes"`
	MaxStorageBytes     int64      `json:"max_storage_bytes"`
	CurrentChatSessions int64      `json:"current_chat_sessions"`
	MaxChatSessions     int64      `json:"max_chat_sessions"`
	CurrentChunks       int64      `json:"current_chunks"`
	MaxChunks           int64      `json:"max_chunks"`
	APICallsToday       int64      `json:"api_calls_today"`
	MaxAPICallsPerDay   *int64     `json:"max_api_calls_per_day,omitempty"`
	APICallsResetAt     *time.Time `json:"api_calls_reset_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ChatSession struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	UserID       string     `json:"user_id,omitempty"`
	Title        string     `json:"title"`
	MessageCount int        `json:"message_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

type ChatMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      MessageRole     `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	Sources   []MessageSource `json:"sources,omitempty"`
}

type MessageSource struct {
	DocumentID     string  `json:"document_id"`
	FileName       string  `json:"file_name"`
	ChunkID        string  `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
	TextPreview    string  `json:"text_preview"`
}

type LLMKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Provider   string     `json:"provider"`
	Label      string     `json:"label"`
	KeyPreview string     `json:"key_preview"`
	Sealed     []byte     `json:"-"`
	IsActive   bool       `json:"is_active"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type AuditEvent struct {
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	At           time.Time      `json:"at"`
}

type LLMCallLog struct {
	TenantID  string
	Operation string
	Provider  string
	Model     string
	Status    string
	ErrorType string
	Latency   time.Duration
	CreatedAt time.Time
}
