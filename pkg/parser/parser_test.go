package parser

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jmylchreest/randouyin/pkg/video"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	return string(data)
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    int64
		wantErr error
	}{
		{"card", fixture(t, "search_card.html"), 7501650862555008308, nil},
		{"bare container", `<div id="waterfall_item_42"></div>`, 42, nil},
		{"nested", `<li><div id="waterfall_item_7"><span>x</span></div></li>`, 7, nil},
		{"suffix ignored", `<div id="waterfall_item_7_ad"></div>`, 0, ErrNoContainer},
		{"no container", `<div class="card"></div>`, 0, ErrNoContainer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.html)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseID() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseVideoCard(t *testing.T) {
	got, err := ParseVideoCard(fixture(t, "search_card.html"))
	if err != nil {
		t.Fatalf("ParseVideoCard() error = %v", err)
	}

	want := video.ParsedVideo{
		ID:       7501650862555008308,
		ImageURL: "https://p3-pc-sign.douyinpic.com/tos-cn-i-dy/cover~tplv-dy-resize-origshort-autoq-75:330.jpeg?x-expires=1748502000&x-signature=abc%3D",
		Duration: "00:42",
		Title:    "童笑的日常 #搞笑 #日常",
		Date:     "2周前",
		Author:   "童笑",
		Likes:    1523,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseVideoCard() =\n%+v\nwant\n%+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("parsed video is invalid: %v", err)
	}
}

func TestParseVideoCard_Sparse(t *testing.T) {
	got, err := ParseVideoCard(fixture(t, "live_card.html"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Duration != "" || got.Likes != 0 {
		t.Errorf("expected no duration or likes, got %+v", got)
	}
	if got.Title != "今晚一起看烟花" || got.Author != "烟花主播" || got.Date != "1天前" {
		t.Errorf("ParseVideoCard() = %+v", got)
	}
}

func TestParseVideoCard_Errors(t *testing.T) {
	if _, err := ParseVideoCard(`<div id="waterfall_item_1"><span>no image</span></div>`); !errors.Is(err, ErrNoImage) {
		t.Errorf("error = %v, want ErrNoImage", err)
	}
	if _, err := ParseVideoCard(`<p>nothing</p>`); !errors.Is(err, ErrNoContainer) {
		t.Errorf("error = %v, want ErrNoContainer", err)
	}
	if _, err := ParseVideoCard(`<div id="waterfall_item_0"><img src="https://p3.douyinpic.com/a.jpeg"></div>`); err == nil {
		t.Error("card with id 0 should be invalid")
	}
	if _, err := ParseVideoCard(`<div id="waterfall_item_5"><img src=""></div>`); err == nil {
		t.Error("card with an empty image url should be invalid")
	}
}

func TestParseVideoCards(t *testing.T) {
	cards := []string{
		fixture(t, "search_card.html"),
		fixture(t, "live_card.html"),
		`<div id="waterfall_item_9"><span>no image</span></div>`,
		`<div id="waterfall_item_0"><img src="https://p3.douyinpic.com/a.jpeg"></div>`,
	}
	got := ParseVideoCards(cards, "直播中")
	if len(got) != 1 || got[0].ID != 7501650862555008308 {
		t.Fatalf("ParseVideoCards() = %+v, want the single video card", got)
	}
	if got := ParseVideoCards(nil, "直播中"); got == nil || len(got) != 0 {
		t.Errorf("ParseVideoCards(nil) = %#v, want empty slice", got)
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1523", 1523},
		{" 87 ", 87},
		{"1.2万", 12000},
		{"3亿", 300000000},
		{"2.5w", 25000},
		{"", 0},
		{"赞", 0},
	}
	for _, tt := range tests {
		if got := parseCount(tt.in); got != tt.want {
			t.Errorf("parseCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseSingleVideoTag(t *testing.T) {
	parsed := video.ParsedVideo{ID: 7501650862555008308, ImageURL: "https://p3.douyinpic.com/a.jpeg"}
	got, err := ParseSingleVideoTag(parsed, fixture(t, "video_tag.html"))
	if err != nil {
		t.Fatalf("ParseSingleVideoTag() error = %v", err)
	}

	want := []string{
		"https://v26-web.douyinvod.com/8f2a/video/tos/cn/tos-cn-ve-15/oQ/?a=6383&ch=26&cr=3&dr=0",
		"https://v3-web.douyinvod.com/8f2a/video/tos/cn/tos-cn-ve-15/oQ/?a=6383&ch=26&cr=3&dr=0",
		"https://www.douyin.com/aweme/v1/play/?video_id=v0200fg10000cvpl&line=0&file_id=abc&sign=def&is_play_url=1",
	}
	if !reflect.DeepEqual(got.Sources, want) {
		t.Errorf("Sources =\n%s\nwant\n%s", strings.Join(got.Sources, "\n"), strings.Join(want, "\n"))
	}
	if got.ID != parsed.ID {
		t.Errorf("ID = %d, want %d", got.ID, parsed.ID)
	}
}

func TestParseSingleVideoTag_OwnSrc(t *testing.T) {
	got, err := ParseSingleVideoTag(video.ParsedVideo{ID: 1}, `<video src="https://v.example.com/a.mp4"></video>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Sources) != 1 || got.Sources[0] != "https://v.example.com/a.mp4" {
		t.Errorf("Sources = %v", got.Sources)
	}
}

func TestParseSingleVideoTag_InvalidID(t *testing.T) {
	if _, err := ParseSingleVideoTag(video.ParsedVideo{}, `<video src="https://v.example.com/a.mp4"></video>`); err == nil {
		t.Error("sourced video without an id should be invalid")
	}
}

func TestParseSingleVideoTag_NoSources(t *testing.T) {
	_, err := ParseSingleVideoTag(video.ParsedVideo{ID: 1}, `<video src=""><source src=""></video>`)
	if !errors.Is(err, ErrNoSources) {
		t.Errorf("error = %v, want ErrNoSources", err)
	}
}

func TestIsLive(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		marker string
		want   bool
	}{
		{"live card", fixture(t, "live_card.html"), "直播中", true},
		{"video card", fixture(t, "search_card.html"), "直播中", false},
		{"empty marker", fixture(t, "live_card.html"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLive(tt.html, tt.marker); got != tt.want {
				t.Errorf("IsLive() = %v, want %v", got, tt.want)
			}
		})
	}
}
