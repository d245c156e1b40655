package demobackend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vanderheijden86/cadview/pkg/model"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// The demo has no speech recognition: a recording that is plain text is
// taken as its own transcript, anything else is treated as unintelligible.
func transcribe(audio []byte) string {
	if len(audio) == 0 || !utf8.Valid(audio) {
		return ""
	}
	text := strings.TrimSpace(string(audio))
	for _, r := range text {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return ""
		}
	}
	return text
}

var (
	reScale  = regexp.MustCompile(`(?i)\b(?:scale|resize|grow|shrink)\b\D*(\d+(?:\.\d+)?)`)
	reMove   = regexp.MustCompile(`(?i)\b(?:move|translate|shift)\b[^\d-]*(-?\d+(?:\.\d+)?)(?:[^\d-]+(-?\d+(?:\.\d+)?))?(?:[^\d-]+(-?\d+(?:\.\d+)?))?`)
	reDelete = regexp.MustCompile(`(?i)\b(?:delete|remove)\b(?:\D*(\d+))?`)
	reAsk    = regexp.MustCompile(`(?i)^(?:what|how|which|is|are|does|tell)\b|\?$`)
)

// Command interprets one transcript and applies it to the model, in the
// shape of the /api/voice response.
func (s *Server) Command(text string) *model.VoiceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return &model.VoiceResult{Status: "error", Response: "No model loaded."}
	}
	if text == "" {
		return &model.VoiceResult{Status: "success", Transcription: "(inaudible)", Response: "Sorry, I didn't catch that."}
	}
	res := &model.VoiceResult{Status: "success", Transcription: text}

	switch {
	case reScale.MatchString(text):
		m := reScale.FindStringSubmatch(text)
		factor, err := strconv.ParseFloat(m[1], 64)
		if err != nil || factor <= 0 || factor > 100 {
			res.Response = "Scale factor must be between 0 and 100."
			return res
		}
		for _, p := range s.parts {
			p.scale *= factor
			p.offset = p.offset.MulScalar(factor)
			p.invalidate()
		}
		res.Response = fmt.Sprintf("Scaled the model by %g.", factor)
		res.Modified = true

	case reMove.MatchString(text):
		m := reMove.FindStringSubmatch(text)
		d := [3]float64{}
		for i := range d {
			if m[i+1] != "" {
				d[i], _ = strconv.ParseFloat(m[i+1], 64)
			}
		}
		delta := v3.Vec{X: d[0], Y: d[1], Z: d[2]}
		for _, p := range s.parts {
			p.offset = p.offset.Add(delta)
			p.invalidate()
		}
		res.Response = fmt.Sprintf("Moved the model by (%g, %g, %g).", d[0], d[1], d[2])
		res.Modified = true

	case reDelete.MatchString(text):
		if len(s.parts) == 0 {
			res.Response = "There is nothing left to delete."
			return res
		}
		i := len(s.parts) - 1
		if m := reDelete.FindStringSubmatch(text); m[1] != "" {
			n, _ := strconv.Atoi(m[1])
			if n < 1 || n > len(s.parts) {
				res.Response = fmt.Sprintf("There is no body %d; the model has %d.", n, len(s.parts))
				return res
			}
			i = n - 1
		}
		name := s.parts[i].spec.name
		s.removePart(i)
		res.Response = fmt.Sprintf("Deleted %s.", name)
		res.Modified = true

	case reAsk.MatchString(text):
		res.Response = s.summaryLocked()

	default:
		res.Response = "I'm not sure what to do with that. Try scale, move, delete or ask a question."
	}

	if res.Modified {
		res.Tree = s.treeLocked()
	}
	return res
}

func (s *Server) summaryLocked() string {
	names := make([]string, len(s.parts))
	faces := 0
	for i, p := range s.parts {
		names[i] = p.spec.name
		faces += len(p.spec.faces)
	}
	return fmt.Sprintf("%s has %d bodies (%s) with %d faces.", s.name, len(s.parts), strings.Join(names, ", "), faces)
}
