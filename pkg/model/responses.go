package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// StatusSuccess is the upload status the backend reports when a file was
// parsed and a tree built.
const StatusSuccess = "success"

// UploadResult is the POST /upload response.
type UploadResult struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Tree    *AssemblyNode `json:"tree,omitempty"`
}

// OK reports whether the upload produced a usable tree.
func (r *UploadResult) OK() bool {
	return r != nil && r.Status == StatusSuccess && r.Tree != nil
}

// VoiceResult is the POST /api/voice response.
type VoiceResult struct {
	Status        string        `json:"status,omitempty"`
	Transcription string        `json:"transcription,omitempty"`
	Response      string        `json:"response,omitempty"`
	Modified      bool          `json:"modified"`
	Tree          *AssemblyNode `json:"tree,omitempty"`
}

// Transcript formats the exchange for the messages pane. It is empty when the
// backend sent no transcription.
func (r *VoiceResult) Transcript() string {
	if r == nil || r.Transcription == "" {
		return ""
	}
	return fmt.Sprintf("You: \"%s\"\nAI: \"%s\"", r.Transcription, r.Response)
}

// Health is the GET / response.
type Health struct {
	Status       string `json:"status"`
	HeavyEnabled bool   `json:"heavy_enabled"`
}

// ParseUpload decodes an upload response.
func ParseUpload(data []byte) (*UploadResult, error) {
	var r UploadResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing upload response: %w", err)
	}
	if r.Tree != nil {
		r.Tree.normalize()
	}
	return &r, nil
}

// ParseVoice decodes a voice response.
func ParseVoice(data []byte) (*VoiceResult, error) {
	var r VoiceResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing voice response: %w", err)
	}
	if r.Tree != nil {
		r.Tree.normalize()
	}
	return &r, nil
}
