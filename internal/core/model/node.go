package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Node is one troubleshooting-guide fragment. JSON keys follow the guide
// element format produced by the reformulation tooling.
type Node struct {
	ID                string `json:"id,omitempty" yaml:"id,omitempty"`
	Type              string `json:"#type#" yaml:"#type#"`
	Title             string `json:"#title#" yaml:"#title#"`
	Intent            string `json:"#intent#" yaml:"#intent#"`
	Action            string `json:"#action#" yaml:"#action#"`
	Output            string `json:"#output#" yaml:"#output#"`
	DefaultParameters Params `json:"#default_parameters#,omitempty" yaml:"#default_parameters#,omitempty"`
	Monitor           string `json:"#monitor#,omitempty" yaml:"#monitor#,omitempty"`
	IsFirst           string `json:"#isfirst#,omitempty" yaml:"#isfirst#,omitempty"`
	IncidentDetails   string `json:"#incident_details#,omitempty" yaml:"#incident_details#,omitempty"`
}

// First reports whether the node opens the steps of its guide.
func (n *Node) First() bool {
	switch strings.ToLower(strings.TrimSpace(n.IsFirst)) {
	case "yes", "true":
		return true
	}
	return false
}

// Same reports whether two nodes are the same guide fragment. Incident
// details attached at retrieval time are ignored.
func (n *Node) Same(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.ID != "" && o.ID != "" {
		return n.ID == o.ID
	}
	return n.Type == o.Type &&
		n.Title == o.Title &&
		n.Intent == o.Intent &&
		n.Action == o.Action &&
		n.Output == o.Output
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.DefaultParameters != nil {
		c.DefaultParameters = make(Params, len(n.DefaultParameters))
		for k, v := range n.DefaultParameters {
			c.DefaultParameters[k] = v
		}
	}
	return &c
}

// Render returns the action with every placeholder replaced by its default
// value, followed by the expected output.
func (n *Node) Render() string {
	action := n.Action
	keys := make([]string, 0, len(n.DefaultParameters))
	for k := range n.DefaultParameters {
		keys = append(keys, k)
	}
	// longest first so "<cluster_name>" wins over "<cluster>"
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		action = strings.ReplaceAll(action, k, n.DefaultParameters[k])
	}

	var sb strings.Builder
	if n.Intent != "" {
		sb.WriteString(n.Intent)
		sb.WriteString("\n\n")
	}
	sb.WriteString(action)
	if n.Output != "" {
		sb.WriteString("\n\nExpected output:\n")
		sb.WriteString(n.Output)
	}
	return sb.String()
}

// Document is the text indexed for search.
func (n *Node) Document() string {
	return n.Title + "\n" + n.Intent + "\n" + n.Action
}

// Params maps a code placeholder to its default value. Guide files write an
// empty string when no template could be extracted.
type Params map[string]string

func (p *Params) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = nil
		return nil
	}
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		*p = nil
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("default parameters: %w", err)
	}
	*p = stringify(m)
	return nil
}

func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*p = nil
		return nil
	}
	var m map[string]any
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("default parameters: %w", err)
	}
	*p = stringify(m)
	return nil
}

func stringify(m map[string]any) Params {
	out := make(Params, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Incident is the record returned by the incident lookup.
type Incident struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	MonitorID string    `json:"monitor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end,omitempty"`
}

// Details renders the incident for attachment to a retrieved node.
func (i *Incident) Details() string {
	end := "ongoing"
	if !i.End.IsZero() {
		end = i.End.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("There is the incident details: **Incident**: %s\n **Starttime**: %s\n **Endtime**: %s\n **Summary**: %s",
		i.Title, i.Start.UTC().Format(time.RFC3339), end, i.Summary)
}
