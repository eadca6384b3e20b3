package rendition

import (
	"testing"

	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mp4(height int, bitrate int64, link string) vimeo.File {
	return vimeo.File{Origin: vimeo.OriginFiles, Type: "video/mp4", Height: height, Bitrate: bitrate, Link: link}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		video    vimeo.Video
		wantLink string
		wantKind Kind
		wantExt  string
	}{
		{
			name: "highest progressive wins over download",
			video: vimeo.Video{
				Files: []vimeo.File{
					mp4(480, 1, "https://cdn/480.mp4"),
					mp4(1080, 1, "https://cdn/1080.mp4"),
					mp4(720, 1, "https://cdn/720.mp4"),
				},
				Downloads: []vimeo.File{{Type: "source", Height: 2160, Link: "https://cdn/src.mov"}},
			},
			wantLink: "https://cdn/1080.mp4",
			wantKind: KindProgressive,
			wantExt:  ".mp4",
		},
		{
			name: "bitrate breaks height ties",
			video: vimeo.Video{Files: []vimeo.File{
				mp4(720, 1000, "https://cdn/low.mp4"),
				mp4(720, 5000, "https://cdn/high.mp4"),
			}},
			wantLink: "https://cdn/high.mp4",
			wantKind: KindProgressive,
			wantExt:  ".mp4",
		},
		{
			name: "files without link are ignored",
			video: vimeo.Video{Files: []vimeo.File{
				mp4(2160, 1, ""),
				mp4(360, 1, "https://cdn/360.mp4"),
			}},
			wantLink: "https://cdn/360.mp4",
			wantKind: KindProgressive,
			wantExt:  ".mp4",
		},
		{
			name: "only downloads picks the highest",
			video: vimeo.Video{Downloads: []vimeo.File{
				{Quality: "sd", Height: 540, Link: "https://cdn/sd.mp4"},
				{Quality: "hd", Height: 1080, Link: "https://cdn/hd.mov?token=x"},
			}},
			wantLink: "https://cdn/hd.mov?token=x",
			wantKind: KindDownload,
			wantExt:  ".mov",
		},
		{
			name: "source preferred at equal height",
			video: vimeo.Video{Downloads: []vimeo.File{
				{Quality: "hd", Height: 1080, Link: "https://cdn/a.mp4"},
				{Quality: "source", Type: "source", Height: 1080, Link: "https://cdn/b.mkv"},
			}},
			wantLink: "https://cdn/b.mkv",
			wantKind: KindDownload,
			wantExt:  ".mkv",
		},
		{
			name: "non mp4 files compete with downloads",
			video: vimeo.Video{
				Files:     []vimeo.File{{Type: "video/webm", Height: 720, Link: "https://cdn/x.webm"}},
				Downloads: []vimeo.File{{Height: 1080, Link: "https://cdn/y.avi"}},
			},
			wantLink: "https://cdn/y.avi",
			wantKind: KindDownload,
			wantExt:  ".avi",
		},
		{
			name: "size then link make the order total",
			video: vimeo.Video{Files: []vimeo.File{
				{Type: "video/mp4", Height: 720, Size: 10, Link: "https://cdn/b.mp4"},
				{Type: "video/mp4", Height: 720, Size: 10, Link: "https://cdn/a.mp4"},
				{Type: "video/mp4", Height: 720, Size: 5, Link: "https://cdn/0.mp4"},
			}},
			wantLink: "https://cdn/a.mp4",
			wantKind: KindProgressive,
			wantExt:  ".mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Select(tt.video)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLink, sel.File.Link)
			assert.Equal(t, tt.wantKind, sel.Kind)
			assert.Equal(t, tt.wantExt, sel.Ext)
		})
	}
}

func TestSelect_NoEligibleFile(t *testing.T) {
	for _, v := range []vimeo.Video{
		{},
		{Files: []vimeo.File{mp4(1080, 1, "")}},
		{Downloads: []vimeo.File{{Height: 1080}}},
	} {
		_, err := Select(v)
		assert.ErrorIs(t, err, ErrNoEligibleFile)
	}
}

func TestSelect_OrderIndependent(t *testing.T) {
	files := []vimeo.File{
		mp4(720, 1, "https://cdn/c.mp4"),
		mp4(720, 1, "https://cdn/a.mp4"),
		mp4(720, 1, "https://cdn/b.mp4"),
	}

	reversed := []vimeo.File{files[2], files[1], files[0]}

	a, err := Select(vimeo.Video{Files: files})
	require.NoError(t, err)

	b, err := Select(vimeo.Video{Files: reversed})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "https://cdn/a.mp4", a.File.Link)
}

func TestExt(t *testing.T) {
	tests := map[string]string{
		"https://cdn/v.MOV":              ".mov",
		"https://cdn/v.mpeg?x=1":         ".mpeg",
		"https://cdn/v":                  ".mp4",
		"https://cdn/v.webm":             ".mp4",
		"https://cdn/playlist.m3u8#frag": ".mp4",
		"%zz":                            ".mp4",
	}

	for link, want := range tests {
		assert.Equal(t, want, Ext(link), link)
	}
}
