package fetcher

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// timedtext is YouTube's caption XML (format 3).
type timedtext struct {
	XMLName    xml.Name        `xml:"timedtext"`
	Paragraphs []timedtextPara `xml:"body>p"`
}

type timedtextPara struct {
	Start    int64              `xml:"t,attr"` // milliseconds
	Duration int64              `xml:"d,attr"`
	Text     string             `xml:",chardata"`
	Segments []timedtextSegment `xml:"s"`
}

type timedtextSegment struct {
	Text string `xml:",chardata"`
}

// parseTranscript joins caption paragraphs into plain text.
func parseTranscript(data []byte) (string, error) {
	var tt timedtext
	if err := xml.Unmarshal(data, &tt); err != nil {
		return "", fmt.Errorf("failed to parse captions: %w", err)
	}

	parts := make([]string, 0, len(tt.Paragraphs))
	for _, p := range tt.Paragraphs {
		var sb strings.Builder
		if len(p.Segments) == 0 {
			sb.WriteString(p.Text)
		}
		for _, s := range p.Segments {
			sb.WriteString(s.Text)
		}
		if text := strings.Join(strings.Fields(sb.String()), " "); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pickCaption returns the track in the preferred language, then a manual
// track in any language, then whatever is first.
func pickCaption(tracks []youtube.CaptionTrack, lang string) *youtube.CaptionTrack {
	if len(tracks) == 0 {
		return nil
	}
	for i := range tracks {
		if tracks[i].LanguageCode == lang {
			return &tracks[i]
		}
	}
	for i := range tracks {
		if tracks[i].Kind != "asr" {
			return &tracks[i]
		}
	}
	return &tracks[0]
}
