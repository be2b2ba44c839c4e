package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/korulabs/lead-engine/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes {{dotted.key}} placeholders from the context.
// Placeholders without a matching key are left verbatim so broken templates
// stay visible instead of silently producing blanks.
func RenderTemplate(tmpl string, ctx map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.TrimSpace(strings.Trim(m, "{}"))
		if v, ok := lookupPath(ctx, key); ok {
			return stringify(v)
		}
		return m
	})
}

func lookupPath(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = ctx
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// TemplateContext flattens a lead (and optionally a deal and extras) into
// the map consumed by RenderTemplate.
func TemplateContext(lead *domain.Lead, deal *domain.Deal, extra map[string]any) map[string]any {
	ctx := map[string]any{}
	if lead != nil {
		ctx["lead"] = map[string]any{
			"id":              lead.ID,
			"email":           lead.Email,
			"first_name":      lead.FirstName,
			"last_name":       lead.LastName,
			"company":         lead.Company,
			"status":          lead.Status,
			"lifecycle_stage": lead.LifecycleStage,
			"total_score":     lead.TotalScore,
			"primary_intent":  string(lead.PrimaryIntent),
			"confidence":      lead.IntentConfidence,
		}
	}
	if deal != nil {
		ctx["deal"] = map[string]any{
			"id":          deal.ID,
			"pipeline_id": deal.PipelineID,
			"stage_id":    deal.StageID,
			"status":      string(deal.Status),
		}
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}
