package ai

import "testing"

const sampleResponse = "評価が完了しました。\n```json\n" + `{
  "proportion": {"shape_accuracy": "輪郭はほぼ正確", "ratio_balance": "やや縦長", "contour_quality": "安定", "score": 72},
  "tone": {"value_range": "中間調が不足", "light_consistency": "一貫", "three_dimensionality": "良好", "score": 68},
  "texture": {"material_expression": "金属感が出ている", "touch_variety": "単調", "score": 65},
  "line_quality": {"stroke_quality": "滑らか", "pressure_control": "良い", "hatching": "粗い", "score": 70},
  "overall_score": 69.5,
  "strengths": ["形の正確さ", "光源の一貫性"],
  "improvements": ["中間調を増やす"],
  "tags": ["やかん", "静物"]
}` + "\n```\n頑張ってください。"

func TestParseAnalysisFencedBlock(t *testing.T) {
	analysis, err := ParseAnalysis(sampleResponse)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if analysis.OverallScore != 69.5 {
		t.Fatalf("overall = %v", analysis.OverallScore)
	}
	if analysis.Proportion.Score != 72 {
		t.Fatalf("proportion = %v", analysis.Proportion.Score)
	}
	if analysis.Proportion.Notes["shapeAccuracy"] != "輪郭はほぼ正確" {
		t.Fatalf("notes = %v", analysis.Proportion.Notes)
	}
	if len(analysis.Strengths) != 2 || len(analysis.Tags) != 2 {
		t.Fatalf("lists: %+v", analysis)
	}
}

func TestParseAnalysisBareJSON(t *testing.T) {
	analysis, err := ParseAnalysis(`{"overall_score": 81, "strengths": [], "improvements": [], "tags": ["球体"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if analysis.OverallScore != 81 {
		t.Fatalf("overall = %v", analysis.OverallScore)
	}
}

func TestParseAnalysisClampsScores(t *testing.T) {
	analysis, err := ParseAnalysis(`{"overall_score": 140, "proportion": {"score": -5}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if analysis.OverallScore != 100 {
		t.Fatalf("overall must clamp to 100, got %v", analysis.OverallScore)
	}
	if analysis.Proportion.Score != 0 {
		t.Fatalf("criterion must clamp to 0, got %v", analysis.Proportion.Score)
	}
}

func TestParseAnalysisNoJSON(t *testing.T) {
	if _, err := ParseAnalysis("すみません、分析できませんでした。"); err == nil {
		t.Fatalf("expected error for prose-only response")
	}
}

func TestExtractJSONBalancedBraces(t *testing.T) {
	text := `before {"a": {"b": "close } brace in string"}} after`
	got, ok := ExtractJSON(text)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	want := `{"a": {"b": "close } brace in string"}}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractJSONRejectsUnbalanced(t *testing.T) {
	if _, ok := ExtractJSON(`{"a": 1`); ok {
		t.Fatalf("unterminated object must not extract")
	}
}
