package model

// GuideElements is the LLM answer when splitting a markdown guide.
type GuideElements struct {
	ExtractedElements []Node `json:"extracted_elements"`
}

// CodeTemplate is the LLM answer when templating a code block.
type CodeTemplate struct {
	Template   string `json:"#CODE_TEMPLATE#"`
	Parameters Params `json:"#DEFAULT_PARAMETERS#"`
}
