package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/aeon/internal/skills"
)

// SkillSearchTool lets the model look up a loaded skill's full body by
// semantic query, the bridge between the skill registry and the tool
// dispatcher.
type SkillSearchTool struct {
	registry *skills.Registry
}

func NewSkillSearchTool(registry *skills.Registry) *SkillSearchTool {
	return &SkillSearchTool{registry: registry}
}

func (t *SkillSearchTool) Name() string { return "skill_search" }
func (t *SkillSearchTool) Description() string {
	return "Find a relevant skill by description and return its instructions"
}
func (t *SkillSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "What you're trying to do"},
		},
		"required": []string{"query"},
	}
}

func (t *SkillSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}

	result, err := t.registry.Query(ctx, query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("skill search failed: %v", err))
	}
	if len(result.Matches) == 0 {
		return NewResult("no matching skill found")
	}
	if result.Disambiguous {
		var names []string
		for _, m := range result.Matches {
			names = append(names, m.Name)
		}
		return NewResult(fmt.Sprintf("multiple skills could apply: %s — ask the user which one they mean", strings.Join(names, ", ")))
	}

	best := result.Matches[0]
	skill, ok := t.registry.Get(best.Name)
	if !ok {
		return ErrorResult("matched skill could not be loaded")
	}
	return NewResult(fmt.Sprintf("# %s\n\n%s", skill.Name, skill.Body))
}
