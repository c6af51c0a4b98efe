package app

import (
	"strings"
	"testing"

	"dessincoach/pkg/domain"
)

func sampleAnalysis() domain.Analysis {
	return domain.Analysis{
		OverallScore: 72.5,
		Proportion: domain.Criterion{
			Score: 85,
			Notes: map[string]string{"shapeAccuracy": "輪郭は正確", "ratioBalance": "良好"},
		},
		Tone:        domain.Criterion{Score: 65, Notes: map[string]string{"valueRange": "中間調が不足"}},
		Texture:     domain.Criterion{Score: 45},
		LineQuality: domain.Criterion{Score: 30, Notes: map[string]string{"hatching": "粗い"}},
		Strengths:   []string{"形の正確さ", "集中力"},
		Improvements: []string{
			"中間調を増やす",
		},
		Tags: []string{"りんご"},
	}
}

func TestComposeSummary(t *testing.T) {
	got := composeSummary(sampleAnalysis())
	want := "総合スコア: 72.5/100 | 良い点: 形の正確さ | 改善点: 中間調を増やす"
	if got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}

func TestComposeSummaryDefaults(t *testing.T) {
	got := composeSummary(domain.Analysis{OverallScore: 50})
	if !strings.Contains(got, "全体的なバランス") || !strings.Contains(got, "特になし") {
		t.Fatalf("summary = %q", got)
	}
}

func TestComposeMarkdownSectionsAndIcons(t *testing.T) {
	feedback := ComposeFeedback(sampleAnalysis(), domain.RankKyu8, false)
	md := feedback.DetailedFeedback

	for _, want := range []string{
		"# デッサン分析レポート",
		"**現在のランク**: 8級",
		"## 📊 評価項目別分析",
		"### プロポーション 🌟 (85.0/100)",
		"### 明暗・陰影 🟢 (65.0/100)",
		"### 質感・タッチ 🟡 (45.0/100)",
		"### 線の質 🔴 (30.0/100)",
		"- **形の正確さ**: 輪郭は正確",
		"## 💡 総合アドバイス",
		"- 中間調を増やす",
		"デッサン練習お疲れ様です！",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestComposeMarkdownPromotion(t *testing.T) {
	feedback := ComposeFeedback(sampleAnalysis(), domain.RankDan1, true)
	if !strings.Contains(feedback.DetailedFeedback, "昇級おめでとうございます") {
		t.Fatalf("promotion note missing:\n%s", feedback.DetailedFeedback)
	}
	if !strings.Contains(feedback.DetailedFeedback, "初段") {
		t.Fatalf("promoted rank label missing")
	}
}
