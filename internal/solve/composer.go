package solve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quizzer/internal/extract"
)

// AnswerType names one of the supported answer shapes.
type AnswerType string

const (
	TypeBool       AnswerType = "bool"
	TypeNumber     AnswerType = "number"
	TypeString     AnswerType = "string"
	TypeObject     AnswerType = "object"
	TypeFileBase64 AnswerType = "file_base64"
)

var validTypes = map[AnswerType]bool{
	TypeBool:       true,
	TypeNumber:     true,
	TypeString:     true,
	TypeObject:     true,
	TypeFileBase64: true,
}

// Answer is the value proposed for submission.
type Answer struct {
	Type  AnswerType
	Value any
}

// ErrMalformedAnswer marks a model response that does not satisfy the
// output contract: missing answer or answer_type, or an unknown type.
// The caller retries composition, not the submission.
var ErrMalformedAnswer = errors.New("malformed model answer")

const (
	// questionCap bounds the verbatim question text in the prompt.
	questionCap = 8000
	// attachmentBudget bounds the combined attachment section. Later
	// attachments are dropped whole once the budget is spent.
	attachmentBudget = 16000
)

// answerPattern salvages a JSON answer object wrapped in prose.
var answerPattern = regexp.MustCompile(`\{[^{}]*"answer"[^{}]*\}`)

const systemPrompt = `You are an expert data analyst solving quiz questions about data sourcing, preparation and analysis.

You receive the question text, previews of any linked data files, and API response data when the question references an endpoint. Work out the answer from that material.

Return ONLY a valid JSON object with exactly these keys:
  "answer": the final answer value (number, string, boolean, object, or a base64-encoded string for file answers)
  "answer_type": one of "number", "string", "bool", "object", "file_base64"

No explanations, no text outside the JSON object.`

// Composer assembles prompts and validates model answers.
type Composer struct {
	client LLMClient
	logger *zap.Logger
}

// NewComposer builds a Composer over an LLM client.
func NewComposer(client LLMClient, logger *zap.Logger) *Composer {
	return &Composer{client: client, logger: logger}
}

// Compose invokes the model once and validates the structured answer.
// Composition is pure given its inputs apart from the model invocation.
func (c *Composer) Compose(ctx context.Context, question string, atts []extract.Attachment, apiBody string) (*Answer, error) {
	userPrompt := c.buildPrompt(question, atts, apiBody)

	raw, err := c.client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("model invocation: %w", err)
	}

	answer, err := parseAnswer(raw)
	if err != nil {
		c.logger.Warn("model output failed validation",
			zap.String("raw", truncateForLog(raw)), zap.Error(err))
		return nil, err
	}
	return answer, nil
}

func (c *Composer) buildPrompt(question string, atts []extract.Attachment, apiBody string) string {
	question = truncateRunes(question, questionCap)

	var sb strings.Builder
	sb.WriteString("QUIZ QUESTION:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	budget := attachmentBudget
	included := 0
	for _, att := range atts {
		block := att.PromptBlock()
		if len(block) > budget {
			// Drop this and all later attachments whole; earlier data
			// keeps its full preview.
			c.logger.Debug("attachment budget exhausted",
				zap.Int("included", included), zap.Int("dropped", len(atts)-included))
			break
		}
		if included == 0 {
			sb.WriteString("DATA FILES:\n")
		}
		sb.WriteString(block)
		sb.WriteString("\n\n")
		budget -= len(block)
		included++
	}

	if apiBody != "" {
		sb.WriteString("API DATA:\n")
		sb.WriteString(apiBody)
		sb.WriteString("\n\n")
	}

	sb.WriteString(`Return ONLY a JSON object with "answer" and "answer_type" keys.`)
	return sb.String()
}

// parseAnswer validates the model's JSON against the answer contract.
// A missing field or unknown type is a composition failure, never coerced.
func parseAnswer(raw string) (*Answer, error) {
	fields, err := decodeAnswerObject(raw)
	if err != nil {
		// One salvage attempt for answers wrapped in prose.
		if m := answerPattern.FindString(raw); m != "" {
			fields, err = decodeAnswerObject(m)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
		}
	}

	value, haveValue := fields["answer"]
	rawType, haveType := fields["answer_type"]
	if !haveValue || !haveType {
		return nil, fmt.Errorf("%w: answer or answer_type missing", ErrMalformedAnswer)
	}

	typeName, ok := rawType.(string)
	if !ok || !validTypes[AnswerType(typeName)] {
		return nil, fmt.Errorf("%w: unsupported answer_type %v", ErrMalformedAnswer, rawType)
	}

	return &Answer{Type: AnswerType(typeName), Value: value}, nil
}

func decodeAnswerObject(raw string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func truncateForLog(s string) string {
	return truncateRunes(s, 500)
}

// truncateRunes cuts s at limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
