package models

type AssetCapability struct {
	SupportsModernFormat bool `json:"supports_modern_format"`
	ImagesReady          bool `json:"images_ready"`
	LoadFailed           bool `json:"load_failed"`
}

// FaceView tells the shell how to draw one side of the coin: an image path,
// or a glyph when images could not be loaded.
type FaceView struct {
	Face  Face   `json:"face"`
	Path  string `json:"path,omitempty"`
	Glyph string `json:"glyph,omitempty"`
}
