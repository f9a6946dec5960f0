package entity

import "time"

// OCRResult is the output of the OCR extractor. Only Text, Confidence and Pages are checkpointed.
type OCRResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"` // 0..1, 0 is a valid value
	Pages      []OCRPage `json:"pages,omitempty"`

	SourceType string        `json:"-"` // constants.PDF | constants.IMAGE
	Method     string        `json:"-"` // "pdf-text" | "pdf-ocr" | "image-ocr"
	Language   string        `json:"-"`
	Duration   time.Duration `json:"-"`
	Warnings   []string      `json:"-"`
}

type OCRPage struct {
	PageNumber int        `json:"page_number"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Blocks     []OCRBlock `json:"blocks,omitempty"`
}

type OCRBlock struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}
