package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var indexPattern = regexp.MustCompile(`\d+`)

// SimpleLLMReranker orders guide candidates by asking the LLM.
type SimpleLLMReranker struct {
	LLM LLMClient
}

func NewSimpleLLMReranker(client LLMClient) *SimpleLLMReranker {
	return &SimpleLLMReranker{LLM: client}
}

// Rank returns a permutation of document indices, most relevant first.
// Indices the model omits keep their original relative order at the end.
func (r *SimpleLLMReranker) Rank(ctx context.Context, query string, docs []string) ([]int, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) == 1 {
		return []int{0}, nil
	}

	var docList strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&docList, "[%d] %s\n", i, truncate(d, 200))
	}

	prompt := fmt.Sprintf(`You are a search relevance optimization system.
Query: %s

Documents:
%s
Rank the documents above based on their relevance to the query.
Output ONLY the indices of the documents in order of relevance, separated by commas.
Example: 0, 2, 1
Do not output any other text.`, query, docList.String())

	resp, err := r.LLM.Generate(ctx, prompt)
	if err != nil {
		return identity(len(docs)), nil
	}

	return completePermutation(parseIndices(resp), len(docs)), nil
}

func parseIndices(s string) []int {
	matches := indexPattern.FindAllString(s, -1)
	var indices []int
	for _, m := range matches {
		if i, err := strconv.Atoi(m); err == nil {
			indices = append(indices, i)
		}
	}
	return indices
}

func completePermutation(indices []int, n int) []int {
	seen := make([]bool, n)
	out := make([]int, 0, n)
	for _, i := range indices {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
