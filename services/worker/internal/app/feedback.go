package app

import (
	"fmt"
	"strings"

	"dessincoach/pkg/domain"
)

// ComposeFeedback builds the user-facing feedback from an analysis and the
// evaluated rank. The summary is a one-liner; the detailed feedback is a
// markdown report.
func ComposeFeedback(analysis domain.Analysis, rank domain.Rank, promoted bool) domain.Feedback {
	return domain.Feedback{
		Analysis:         analysis,
		Summary:          composeSummary(analysis),
		DetailedFeedback: composeMarkdown(analysis, rank, promoted),
	}
}

func composeSummary(analysis domain.Analysis) string {
	strength := "全体的なバランス"
	if len(analysis.Strengths) > 0 {
		strength = analysis.Strengths[0]
	}
	improvement := "特になし"
	if len(analysis.Improvements) > 0 {
		improvement = analysis.Improvements[0]
	}
	return fmt.Sprintf("総合スコア: %.1f/100 | 良い点: %s | 改善点: %s",
		analysis.OverallScore, strength, improvement)
}

func composeMarkdown(analysis domain.Analysis, rank domain.Rank, promoted bool) string {
	var md []string
	md = append(md, "# デッサン分析レポート")
	md = append(md, fmt.Sprintf("**現在のランク**: %s | **総合スコア**: %.1f", rank.Label(), analysis.OverallScore))
	md = append(md, "")
	if promoted {
		md = append(md, fmt.Sprintf("🎉 昇級おめでとうございます！あなたは **%s** になりました。", rank.Label()))
	} else {
		md = append(md, "デッサン練習お疲れ様です！")
	}
	md = append(md, "")

	md = append(md, "## 📊 評価項目別分析")
	md = append(md, formatCriterion("プロポーション", analysis.Proportion, proportionNoteOrder))
	md = append(md, formatCriterion("明暗・陰影", analysis.Tone, toneNoteOrder))
	md = append(md, formatCriterion("質感・タッチ", analysis.Texture, textureNoteOrder))
	md = append(md, formatCriterion("線の質", analysis.LineQuality, lineQualityNoteOrder))

	md = append(md, "## 💡 総合アドバイス")
	if len(analysis.Strengths) > 0 {
		md = append(md, "### 良い点")
		for _, strength := range analysis.Strengths {
			md = append(md, "- "+strength)
		}
	}
	if len(analysis.Improvements) > 0 {
		md = append(md, "### 改善ポイント")
		for _, improvement := range analysis.Improvements {
			md = append(md, "- "+improvement)
		}
	}
	return strings.Join(md, "\n")
}

type noteLabel struct {
	key   string
	label string
}

var (
	proportionNoteOrder = []noteLabel{
		{"shapeAccuracy", "形の正確さ"},
		{"ratioBalance", "比率・バランス"},
		{"contourQuality", "輪郭線"},
	}
	toneNoteOrder = []noteLabel{
		{"valueRange", "明暗の階調"},
		{"lightConsistency", "光源の一貫性"},
		{"threeDimensionality", "立体感"},
	}
	textureNoteOrder = []noteLabel{
		{"materialExpression", "素材感"},
		{"touchVariety", "タッチ"},
	}
	lineQualityNoteOrder = []noteLabel{
		{"strokeQuality", "運筆"},
		{"pressureControl", "筆圧"},
		{"hatching", "ハッチング"},
	}
)

func formatCriterion(title string, criterion domain.Criterion, order []noteLabel) string {
	var section []string
	section = append(section, fmt.Sprintf("### %s %s (%.1f/100)", title, scoreIcon(criterion.Score), criterion.Score))
	for _, entry := range order {
		if note, ok := criterion.Notes[entry.key]; ok && note != "" {
			section = append(section, fmt.Sprintf("- **%s**: %s", entry.label, note))
		}
	}
	section = append(section, "")
	return strings.Join(section, "\n")
}

func scoreIcon(score float64) string {
	switch {
	case score >= 80:
		return "🌟"
	case score >= 60:
		return "🟢"
	case score >= 40:
		return "🟡"
	default:
		return "🔴"
	}
}
