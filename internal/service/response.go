package service

import "strings"

const (
	NoAnswerMessage     = "I could not find reliable information on this topic in my sources."
	LowConfidencePrefix = "I found some information, but I'm not very confident about this answer: "

	maxCitedSources = 3
)

// Citation points at the document an answer came from.
type Citation struct {
	Title  string  `json:"title"`
	Source string  `json:"source"`
	URL    string  `json:"url,omitempty"`
	Score  float64 `json:"score"`
}

// Result is the outcome of one question.
type Result struct {
	Question      string     `json:"question"`
	Answer        string     `json:"answer"`
	Confidence    float64    `json:"confidence"`
	Outcome       Outcome    `json:"outcome"`
	LowConfidence bool       `json:"low_confidence"`
	Citations     []Citation `json:"citations"`
	Trace         []State    `json:"trace"`
	Fetched       int        `json:"fetched"`
}

// Sources returns the distinct source names of the citations.
func (r Result) Sources() []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range r.Citations {
		if c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		out = append(out, c.Source)
	}
	return out
}

// Final returns the terminal state.
func (r Result) Final() State {
	if len(r.Trace) == 0 {
		return ""
	}
	return r.Trace[len(r.Trace)-1]
}

// Text formats the result for a user: the answer with its sources, the
// answer behind a low-confidence warning, or the no-answer message.
func (r Result) Text() string {
	switch {
	case r.Answer == "":
		return NoAnswerMessage
	case r.LowConfidence:
		return LowConfidencePrefix + r.Answer
	}
	sources := r.Sources()
	if len(sources) == 0 {
		return r.Answer
	}
	if len(sources) > maxCitedSources {
		sources = sources[:maxCitedSources]
	}
	return r.Answer + "\n\n[Sources: " + strings.Join(sources, ", ") + "]"
}

// ChatRequest is the transport-level question.
type ChatRequest struct {
	Message string `json:"message" validate:"required"`
}

// ChatResponse is the transport-level answer.
type ChatResponse struct {
	Response   string   `json:"response"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Outcome    Outcome  `json:"outcome"`
}

// Response converts a result to the chat contract.
func (r Result) Response() ChatResponse {
	return ChatResponse{
		Response:   r.Text(),
		Sources:    r.Sources(),
		Confidence: r.Confidence,
		Outcome:    r.Outcome,
	}
}
