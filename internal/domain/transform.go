package domain

import (
	"errors"
	"strings"
)

// TransformRequest is one resize call. Rotation is nil when the caller omitted it.
type TransformRequest struct {
	SourcePath string `json:"source_path"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     Format `json:"format"`
	Quality    int    `json:"quality"`
	Rotation   *int   `json:"rotation,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
}

// TransformResult describes the file an engine wrote.
type TransformResult struct {
	Path string `json:"path"`
	URI  string `json:"uri"`
	Size *int64 `json:"size,omitempty"`
	Name string `json:"name,omitempty"`
}

// Normalized returns a copy of r with defaults applied: an omitted rotation becomes 0.
func (r TransformRequest) Normalized() TransformRequest {
	if r.Rotation == nil {
		zero := 0
		r.Rotation = &zero
	}
	return r
}

// RotationDegrees reports the rotation, treating an omitted value as 0.
func (r TransformRequest) RotationDegrees() int {
	if r.Rotation == nil {
		return 0
	}
	return *r.Rotation
}

// Validate checks the shape of a request received from an outer surface (HTTP, CLI, queue).
// Format membership is platform dependent and checked by the dispatcher.
func (r TransformRequest) Validate() error {
	if strings.TrimSpace(r.SourcePath) == "" {
		return errors.New("source_path is required")
	}
	if r.Width <= 0 {
		return errors.New("width must be positive")
	}
	if r.Height <= 0 {
		return errors.New("height must be positive")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return errors.New("quality must be between 0 and 100")
	}
	if strings.TrimSpace(string(r.Format)) == "" {
		return errors.New("format is required")
	}
	return nil
}

func Int(v int) *int {
	return &v
}

func Int64(v int64) *int64 {
	return &v
}
