package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dessincoach/pkg/domain"
)

// Analyzer scores a pencil drawing. rankLabel and recentContext feed the
// prompt so feedback is calibrated to the student's level and history.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL, rankLabel, recentContext string) (domain.Analysis, error)
}

const analysisSystemPrompt = `あなたは美術予備校のデッサン講師です。鉛筆デッサンを` +
	`プロポーション・陰影・質感・線の質の4観点で評価し、必ずJSONのみで回答してください。` +
	`スコアは0〜100の数値です。`

const analysisUserPromptTemplate = `以下のデッサン画像を分析し、このJSONスキーマで回答してください:
{
  "proportion": {"shape_accuracy": "...", "ratio_balance": "...", "contour_quality": "...", "score": 0},
  "tone": {"value_range": "...", "light_consistency": "...", "three_dimensionality": "...", "score": 0},
  "texture": {"material_expression": "...", "touch_variety": "...", "score": 0},
  "line_quality": {"stroke_quality": "...", "pressure_control": "...", "hatching": "...", "score": 0},
  "overall_score": 0,
  "strengths": ["..."],
  "improvements": ["..."],
  "tags": ["りんご", "静物"]
}
受講者の現在のランク: %s%s`

// GeminiAnalyzer analyzes drawings with a Gemini vision model.
type GeminiAnalyzer struct {
	client *GeminiClient
	model  string
}

// NewGeminiAnalyzer builds an analyzer on top of a Gemini client.
func NewGeminiAnalyzer(client *GeminiClient, model string) *GeminiAnalyzer {
	return &GeminiAnalyzer{client: client, model: model}
}

// Analyze fetches the image, asks the model for a structured evaluation and
// parses the JSON out of the response.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, imageURL, rankLabel, recentContext string) (domain.Analysis, error) {
	if rankLabel == "" {
		rankLabel = "未評価"
	}
	var contextBlock string
	if strings.TrimSpace(recentContext) != "" {
		contextBlock = "\nこれまでの講評の要約:\n" + recentContext
	}
	prompt := fmt.Sprintf(analysisUserPromptTemplate, rankLabel, contextBlock)

	text, err := a.client.GenerateVision(ctx, a.model, analysisSystemPrompt, prompt, imageURL)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("analyze drawing: %w", err)
	}
	analysis, err := ParseAnalysis(text)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("parse analysis: %w", err)
	}
	return analysis, nil
}

type wireCriterion struct {
	ShapeAccuracy      string  `json:"shape_accuracy"`
	RatioBalance       string  `json:"ratio_balance"`
	ContourQuality     string  `json:"contour_quality"`
	ValueRange         string  `json:"value_range"`
	LightConsistency   string  `json:"light_consistency"`
	ThreeDimensional   string  `json:"three_dimensionality"`
	MaterialExpression string  `json:"material_expression"`
	TouchVariety       string  `json:"touch_variety"`
	StrokeQuality      string  `json:"stroke_quality"`
	PressureControl    string  `json:"pressure_control"`
	Hatching           string  `json:"hatching"`
	Score              float64 `json:"score"`
}

type wireAnalysis struct {
	Proportion   wireCriterion `json:"proportion"`
	Tone         wireCriterion `json:"tone"`
	Texture      wireCriterion `json:"texture"`
	LineQuality  wireCriterion `json:"line_quality"`
	OverallScore float64       `json:"overall_score"`
	Strengths    []string      `json:"strengths"`
	Improvements []string      `json:"improvements"`
	Tags         []string      `json:"tags"`
}

// ParseAnalysis decodes a model response into an Analysis. The response may
// wrap the JSON in a fenced code block or surround it with prose.
func ParseAnalysis(text string) (domain.Analysis, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return domain.Analysis{}, fmt.Errorf("no JSON object in response")
	}
	var wire wireAnalysis
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return domain.Analysis{}, err
	}
	analysis := domain.Analysis{
		OverallScore: clampScore(wire.OverallScore),
		Proportion: domain.Criterion{
			Score: clampScore(wire.Proportion.Score),
			Notes: notes(map[string]string{
				"shapeAccuracy":  wire.Proportion.ShapeAccuracy,
				"ratioBalance":   wire.Proportion.RatioBalance,
				"contourQuality": wire.Proportion.ContourQuality,
			}),
		},
		Tone: domain.Criterion{
			Score: clampScore(wire.Tone.Score),
			Notes: notes(map[string]string{
				"valueRange":          wire.Tone.ValueRange,
				"lightConsistency":    wire.Tone.LightConsistency,
				"threeDimensionality": wire.Tone.ThreeDimensional,
			}),
		},
		Texture: domain.Criterion{
			Score: clampScore(wire.Texture.Score),
			Notes: notes(map[string]string{
				"materialExpression": wire.Texture.MaterialExpression,
				"touchVariety":       wire.Texture.TouchVariety,
			}),
		},
		LineQuality: domain.Criterion{
			Score: clampScore(wire.LineQuality.Score),
			Notes: notes(map[string]string{
				"strokeQuality":   wire.LineQuality.StrokeQuality,
				"pressureControl": wire.LineQuality.PressureControl,
				"hatching":        wire.LineQuality.Hatching,
			}),
		},
		Strengths:    wire.Strengths,
		Improvements: wire.Improvements,
		Tags:         wire.Tags,
	}
	return analysis, nil
}

// ExtractJSON pulls the first JSON object out of model output. It prefers a
// fenced ```json block and otherwise scans for balanced braces.
func ExtractJSON(text string) (string, bool) {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func notes(m map[string]string) map[string]string {
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
