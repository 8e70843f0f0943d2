package model

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a scrape job. These values
// must match the text values stored in the database (jobs.status).
//
// Centralizing these here avoids scattering string literals like
// "queued" or "completed" across packages.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal
// transition in the job status machine.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// ScraperType selects which fetcher tier (or cascade) executes a job.
type ScraperType string

const (
	ScraperAuto     ScraperType = "auto"
	ScraperHTTP     ScraperType = "http"
	ScraperReader   ScraperType = "reader"
	ScraperHeadless ScraperType = "headless"
	ScraperCheerio  ScraperType = "cheerio"
	ScraperSmart    ScraperType = "smart"
	ScraperAIAgent  ScraperType = "ai_agent"
)

// NormalizeScraperType maps arbitrary input to a known scraper type.
// Unknown or empty values fall back to the auto cascade.
func NormalizeScraperType(s string) ScraperType {
	switch ScraperType(s) {
	case ScraperHTTP, ScraperReader, ScraperHeadless, ScraperCheerio, ScraperSmart, ScraperAIAgent:
		return ScraperType(s)
	default:
		return ScraperAuto
	}
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityPerson  EntityType = "person"
	EntityProduct EntityType = "product"
	EntityArticle EntityType = "article"
	EntityContact EntityType = "contact"
	EntityPricing EntityType = "pricing"
	EntityCustom  EntityType = "custom"
)

// NormalizeEntityType maps arbitrary type labels onto the allowed set.
// Unknown labels become EntityCustom.
func NormalizeEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityCompany, EntityPerson, EntityProduct, EntityArticle, EntityContact, EntityPricing, EntityCustom:
		return EntityType(s)
	default:
		return EntityCustom
	}
}

// Entity is one typed extraction with a free-form data payload.
type Entity struct {
	Type       EntityType     `json:"type"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
}

// ClampConfidence bounds c into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// JobOptions carries per-job behavioural switches.
type JobOptions struct {
	UseProxy       bool              `json:"useProxy,omitempty"`
	BlockResources bool              `json:"blockResources,omitempty"`
	Screenshots    bool              `json:"screenshots,omitempty"`
	Cookies        map[string]string `json:"cookies,omitempty"`
	ForceRefresh   bool              `json:"forceRefresh,omitempty"`
}

// JobMetadata captures execution facts about a finished fetch.
type JobMetadata struct {
	FinalURL     string `json:"finalUrl,omitempty"`
	StatusCode   int    `json:"statusCode,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	PageTitle    string `json:"pageTitle,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty"`
	RequestCount int    `json:"requestCount,omitempty"`
	Bytes        int    `json:"bytes,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	ScraperUsed  string `json:"scraperUsed,omitempty"`
	FromCache    bool   `json:"fromCache,omitempty"`
}

// AIProcessing records the LLM invocation attached to a job.
type AIProcessing struct {
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// ChatMessage is one turn of a job's chat history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the persisted record of one scrape request.
type Job struct {
	ID              uuid.UUID     `json:"id"`
	URL             string        `json:"url"`
	TaskDescription string        `json:"taskDescription,omitempty"`
	Status          Status        `json:"status"`
	ScraperType     ScraperType   `json:"scraperType"`
	UserID          string        `json:"userId,omitempty"`
	SessionID       string        `json:"sessionId,omitempty"`
	Options         JobOptions    `json:"options"`
	HTML            string        `json:"html,omitempty"`
	Markdown        string        `json:"markdown,omitempty"`
	Text            string        `json:"text,omitempty"`
	Screenshots     []string      `json:"screenshots,omitempty"`
	Entities        []Entity      `json:"extractedEntities,omitempty"`
	Metadata        JobMetadata   `json:"metadata"`
	AIProcessing    *AIProcessing `json:"aiProcessing,omitempty"`
	ChatHistory     []ChatMessage `json:"chatHistory,omitempty"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

// FetchResult is the output of a single fetcher tier. A nil result with
// a nil error means the tier could not produce useful content and the
// cascade should advance.
type FetchResult struct {
	HTML            string   `json:"html"`
	Markdown        string   `json:"markdown"`
	Text            string   `json:"text"`
	FinalURL        string   `json:"finalUrl"`
	StatusCode      int      `json:"statusCode"`
	ContentType     string   `json:"contentType,omitempty"`
	PageTitle       string   `json:"pageTitle,omitempty"`
	PageDescription string   `json:"pageDescription,omitempty"`
	Screenshots     []string `json:"screenshots,omitempty"`
	RequestCount    int      `json:"requestCount"`
}

// ProgressEvent is emitted on every meaningful job transition.
type ProgressEvent struct {
	JobID    uuid.UUID      `json:"jobId"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	Progress int            `json:"progress"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionType labels fine-grained agent actions streamed during a job.
type ActionType string

const (
	ActionObservation ActionType = "observation"
	ActionAction      ActionType = "action"
	ActionExtraction  ActionType = "extraction"
	ActionAnalysis    ActionType = "analysis"
	ActionNavigation  ActionType = "navigation"
	ActionClick       ActionType = "click"
	ActionWait        ActionType = "wait"
)

// ActionEvent describes a single agent action (navigation, click, ...).
type ActionEvent struct {
	JobID     uuid.UUID      `json:"jobId"`
	Type      ActionType     `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProgressEmitter receives progress and action events for a job. The
// HTTP layer adapts this onto its push channel; tests capture events
// directly.
type ProgressEmitter interface {
	EmitProgress(ev ProgressEvent)
	EmitAction(ev ActionEvent)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) EmitProgress(ProgressEvent) {}
func (NopEmitter) EmitAction(ActionEvent)     {}
