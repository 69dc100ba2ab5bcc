package subtitles

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/clipscout/internal/types"
)

// ErrNoSpeech is returned when no transcript text falls inside the clip.
var ErrNoSpeech = errors.New("no transcript text inside clip")

const (
	charBudget = 42
	wordBudget = 9
)

// RenderClipASS renders the transcript segments overlapping [start, end) as an
// ASS script with clip-local times. Long segments are split into readable
// chunks whose timing is proportional to their length.
func RenderClipASS(transcript []types.Segment, start, end float64) (string, error) {
	if end <= start {
		return "", fmt.Errorf("invalid clip span %.2f-%.2f", start, end)
	}
	lines := collectLines(transcript, dur(start), dur(end))
	if len(lines) == 0 {
		return "", ErrNoSpeech
	}
	return renderASS(lines), nil
}

type line struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

func collectLines(transcript []types.Segment, start, end time.Duration) []line {
	var out []line
	for _, s := range transcript {
		ss := dur(s.Start)
		se := dur(s.End)
		if se <= start || ss >= end {
			continue
		}
		text := strings.Join(strings.Fields(s.Text), " ")
		if text == "" {
			continue
		}
		if ss < start {
			ss = start
		}
		if se > end {
			se = end
		}
		// clip-local offsets
		out = append(out, splitLine(ss-start, se-start, sanitizeASS(text))...)
	}
	return out
}

// splitLine packs words into chunks within the char and word budgets and
// shares the [start, end) span between them by character count.
func splitLine(start, end time.Duration, text string) []line {
	words := strings.Fields(text)
	var chunks []string
	var cur []string
	curLen := 0
	for _, w := range words {
		wl := len([]rune(w))
		next := curLen + wl
		if curLen > 0 {
			next++
		}
		if len(cur) > 0 && (len(cur) >= wordBudget || next > charBudget) {
			chunks = append(chunks, strings.Join(cur, " "))
			cur = nil
			next = wl
		}
		cur = append(cur, w)
		curLen = next
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}

	total := 0
	for _, c := range chunks {
		total += len([]rune(c))
	}
	span := end - start
	out := make([]line, 0, len(chunks))
	at := start
	used := 0
	for i, c := range chunks {
		used += len([]rune(c))
		stop := start + time.Duration(int64(span)*int64(used)/int64(total))
		if i == len(chunks)-1 {
			stop = end
		}
		out = append(out, line{Start: at, End: stop, Text: c})
		at = stop
	}
	return out
}

func renderASS(lines []line) string {
	var b strings.Builder
	b.WriteString(assHeader())
	b.WriteString("\n\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ln := range lines {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ln.Start))
		b.WriteString(",")
		b.WriteString(assTime(ln.End))
		b.WriteString(",Caption,,0,0,0,,")
		b.WriteString(ln.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func assHeader() string {
	return strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption, Inter, 64, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 1,0,0,0,100,100,0,0,1,5,2,2, 80,80,70,1
`)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.TrimSpace(s)
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
