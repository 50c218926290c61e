package video

import "testing"

func TestParsedVideo_Validate(t *testing.T) {
	tests := []struct {
		name    string
		video   ParsedVideo
		wantErr bool
	}{
		{"valid", ParsedVideo{ID: 7501650862555008308, ImageURL: "https://p3.douyinpic.com/a.jpeg"}, false},
		{"missing id", ParsedVideo{ImageURL: "https://p3.douyinpic.com/a.jpeg"}, true},
		{"missing image", ParsedVideo{ID: 1}, true},
		{"negative likes", ParsedVideo{ID: 1, ImageURL: "x", Likes: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.video.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSourcedVideo(t *testing.T) {
	base := ParsedVideo{ID: 1, ImageURL: "x"}

	v := SourcedVideo{ParsedVideo: base}
	if v.Validate() == nil {
		t.Error("video without sources should be invalid")
	}
	if v.URL() != "" {
		t.Errorf("URL() = %q, want empty", v.URL())
	}

	v.Sources = []string{"https://v26-web.douyinvod.com/a.mp4", "https://v3-web.douyinvod.com/a.mp4"}
	if err := v.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if v.URL() != v.Sources[0] {
		t.Errorf("URL() = %q", v.URL())
	}
}

func TestSourcedVideo_Validate(t *testing.T) {
	tests := []struct {
		name    string
		video   SourcedVideo
		wantErr bool
	}{
		{"id only", SourcedVideo{ParsedVideo: ParsedVideo{ID: 7}, Sources: []string{"https://v.example.com/a.mp4"}}, false},
		{"empty source", SourcedVideo{ParsedVideo: ParsedVideo{ID: 7}, Sources: []string{""}}, true},
		{"missing id", SourcedVideo{Sources: []string{"https://v.example.com/a.mp4"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.video.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
