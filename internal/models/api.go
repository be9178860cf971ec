package models

// AuthStatusResponse represents the authentication status of a user.
type AuthStatusResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Email           string `json:"email"`
	UserID          string `json:"userId"`
}

// PaginationInfo describes one page of a listing.
type PaginationInfo struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
}

type ThreadsResponse struct {
	Threads    []*Thread      `json:"threads"`
	Pagination PaginationInfo `json:"pagination"`
}

type SearchResponse struct {
	Query    string     `json:"query"`
	Messages []*Message `json:"messages"`
}

type SuggestResponse struct {
	Prefix      string   `json:"prefix"`
	Suggestions []string `json:"suggestions"`
}

// ComposeAttachment is an attachment uploaded with a compose request.
// Content is standard base64.
type ComposeAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// ComposeRequest is the payload for sending or saving a message.
type ComposeRequest struct {
	To          []string            `json:"to"`
	Cc          []string            `json:"cc"`
	Bcc         []string            `json:"bcc"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	InReplyTo   string              `json:"in_reply_to"`
	References  []string            `json:"references"`
	Attachments []ComposeAttachment `json:"attachments"`
	Draft       bool                `json:"draft"`
}

// DispatchStatus reports how the external part of a compose went.
type DispatchStatus struct {
	Success   bool   `json:"success"`
	Local     bool   `json:"local"`
	MessageID string `json:"message_id,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ComposeResponse struct {
	Message    *Message          `json:"message"`
	Delivered  map[string]string `json:"delivered"`
	Unresolved []string          `json:"unresolved"`
	Failed     []string          `json:"failed"`
	Dispatch   *DispatchStatus   `json:"dispatch,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
