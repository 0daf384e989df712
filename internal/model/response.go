package model

import "time"

// RawResponse is the unmodified outcome of one provider call for one
// domain, persisted for audit and replay. Exactly one row exists per
// terminal call outcome; it reflects the final attempt only.
type RawResponse struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id"`
	InputDomain  string    `json:"input_domain"`
	StatusCode   int       `json:"status_code"`
	RawBody      *string   `json:"raw_body,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExtractedCompany is a structured similar-company record derived
// deterministically from a successful raw response. Zero or more rows
// exist per raw response.
type ExtractedCompany struct {
	ID              string   `json:"id"`
	RawResponseID   string   `json:"raw_response_id"`
	BatchID         string   `json:"batch_id"`
	InputDomain     string   `json:"input_domain"`
	ExternalID      string   `json:"external_id"`
	Name            string   `json:"name"`
	Domain          string   `json:"domain"`
	Website         string   `json:"website"`
	Industry        string   `json:"industry"`
	Description     string   `json:"description"`
	Keywords        string   `json:"keywords"`
	LogoURL         string   `json:"logo_url"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}
