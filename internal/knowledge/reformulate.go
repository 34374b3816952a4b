package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/common"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

var (
	codeBlockPattern = regexp.MustCompile("(?s)```.*?```")
	sectionPattern   = regexp.MustCompile(`\n#[ \t]`)
	stepPattern      = regexp.MustCompile(`\n##[ \t]`)
	partPattern      = regexp.MustCompile(`\n###[ \t]`)
)

var noAnswerMarkers = []string{
	"sorry, i do not understand your question",
	"sorry, i cannot give a confident answer",
	"i cannot confidently confirm",
	"could you please",
}

// knowledgeSections are markdown sections that hold question/answer
// elements rather than steps.
var knowledgeSections = map[string]bool{
	"terminology": true,
	"background":  true,
	"faq":         true,
	"appendix":    true,
}

// Reformulator converts markdown troubleshooting guides into guide nodes.
type Reformulator struct {
	LLM         llm.LLMClient
	Prompts     config.Prompts
	Monitors    map[string]string
	Concurrency int
	log         *zap.Logger
}

func NewReformulator(llmClient llm.LLMClient, prompts config.Prompts, concurrency int, log *zap.Logger) *Reformulator {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reformulator{
		LLM:         llmClient,
		Prompts:     prompts,
		Monitors:    map[string]string{},
		Concurrency: concurrency,
		log:         log,
	}
}

// Convert turns one markdown guide into nodes titled name. With useLLM the
// elements are extracted by the model, falling back to the heading parser
// when that fails. Code blocks are templatized when an LLM is configured.
func (r *Reformulator) Convert(ctx context.Context, name, markdown string, useLLM bool) ([]*model.Node, error) {
	var elems []model.Node
	if useLLM && r.LLM != nil {
		got, err := r.ExtractElements(ctx, markdown)
		if err != nil {
			r.log.Warn("llm element extraction failed, parsing headings", zap.String("guide", name), zap.Error(err))
		}
		elems = got
	}
	if len(elems) == 0 {
		elems = ParseMarkdown(markdown)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w in guide %s", ErrNoGuides, name)
	}

	nodes := make([]*model.Node, len(elems))
	for i := range elems {
		n := elems[i]
		nodes[i] = &n
	}

	if r.LLM != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.Concurrency)
		for _, n := range nodes {
			g.Go(func() error {
				action, params, err := r.Templatize(gctx, n.Action)
				if err != nil {
					r.log.Warn("code templating failed, keeping action", zap.String("guide", name), zap.Error(err))
					return nil
				}
				n.Action = action
				n.DefaultParameters = params
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	monitor := r.Monitors[name]
	first := true
	for _, n := range nodes {
		n.Title = name
		n.Monitor = monitor
		n.IsFirst = "No"
		if n.Type == "steps" && first {
			n.IsFirst = "Yes"
			n.Intent = name + "\n" + n.Intent
			first = false
		}
	}
	return nodes, nil
}

// ExtractElements asks the LLM to split the guide into elements.
func (r *Reformulator) ExtractElements(ctx context.Context, markdown string) ([]model.Node, error) {
	prompt := fmt.Sprintf(r.Prompts.GuideElements, markdown)

	response, err := r.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate elements: %w", err)
	}

	result, err := common.ParseJSON[model.GuideElements](response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract elements: %w", err)
	}

	for i := range result.ExtractedElements {
		result.ExtractedElements[i].Type = strings.ToLower(strings.TrimSpace(result.ExtractedElements[i].Type))
	}
	return result.ExtractedElements, nil
}

// Templatize replaces each fenced code block in action with the template
// the LLM extracts from it and merges the default parameters. The first
// block to define a placeholder wins.
func (r *Reformulator) Templatize(ctx context.Context, action string) (string, model.Params, error) {
	blocks := codeBlockPattern.FindAllString(action, -1)
	if len(blocks) == 0 {
		return action, nil, nil
	}

	replaced := make([]string, len(blocks))
	params := model.Params{}
	for i, block := range blocks {
		replaced[i] = block
		response, err := r.LLM.Generate(ctx, fmt.Sprintf(r.Prompts.CodeTemplate, block))
		if err != nil {
			return action, nil, fmt.Errorf("failed to generate code template: %w", err)
		}
		if IsNoAnswer(response) {
			continue
		}
		tmpl, err := common.ParseJSON[model.CodeTemplate](response)
		if err != nil || tmpl.Template == "" {
			r.log.Debug("unusable code template", zap.String("response", response))
			continue
		}
		replaced[i] = tmpl.Template
		for k, v := range tmpl.Parameters {
			if _, ok := params[k]; !ok {
				params[k] = v
			}
		}
	}

	next := 0
	out := codeBlockPattern.ReplaceAllStringFunc(action, func(string) string {
		s := replaced[next]
		next++
		return s
	})
	if len(params) == 0 {
		params = nil
	}
	return out, params, nil
}

// IsNoAnswer reports whether an LLM response declines the request.
func IsNoAnswer(response string) bool {
	lower := strings.ToLower(response)
	for _, m := range noAnswerMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ParseMarkdown splits a well-formed guide by headings. Level one headings
// name sections. Knowledge sections yield one element per level two
// heading. Other sections are steps whose level two headings hold
// "### Intent", "### Action" and "### Output" parts.
func ParseMarkdown(markdown string) []model.Node {
	var out []model.Node
	for _, section := range splitBefore(sectionPattern, "\n"+markdown) {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		heading, _, _ := strings.Cut(section, "\n")
		kind := strings.ToLower(strings.TrimSpace(strings.Trim(heading, "# \t")))

		for _, sub := range splitBefore(stepPattern, "\n"+section) {
			sub = strings.TrimSpace(sub)
			if !strings.HasPrefix(sub, "## ") && !strings.HasPrefix(sub, "##\t") {
				continue
			}
			if knowledgeSections[kind] {
				head, body, _ := strings.Cut(sub, "\n")
				out = append(out, model.Node{
					Type:   kind,
					Intent: strings.TrimSpace(strings.TrimLeft(head, "# \t")),
					Action: strings.TrimSpace(body),
				})
				continue
			}
			if step, ok := parseStep(sub); ok {
				out = append(out, step)
			}
		}
	}
	return out
}

func parseStep(sub string) (model.Node, bool) {
	step := model.Node{Type: "steps"}
	found := false
	for _, part := range splitBefore(partPattern, "\n"+sub) {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "###") {
			continue
		}
		head, body, _ := strings.Cut(part, "\n")
		body = strings.TrimSpace(body)
		switch strings.ToLower(strings.TrimSpace(strings.TrimLeft(head, "# \t"))) {
		case "intent":
			step.Intent, found = body, true
		case "action":
			step.Action, found = body, true
		case "output":
			step.Output, found = body, true
		}
	}
	return step, found
}

// splitBefore splits s at every match of pattern, keeping the matched text at
// the start of the following piece.
func splitBefore(pattern *regexp.Regexp, s string) []string {
	idx := pattern.FindAllStringIndex(s, -1)
	var out []string
	start := 0
	for _, loc := range idx {
		out = append(out, s[start:loc[0]])
		start = loc[0]
	}
	return append(out, s[start:])
}
