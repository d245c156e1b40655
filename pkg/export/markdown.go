package export

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/vanderheijden86/cadview/pkg/model"
)

var slugNonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeMermaidID ensures an ID is valid for Mermaid diagrams.
// Mermaid node IDs must be alphanumeric with hyphens/underscores.
func sanitizeMermaidID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			sb.WriteRune(r)
		}
	}
	result := sb.String()
	if result == "" {
		return "node"
	}
	return result
}

// sanitizeMermaidText prepares text for use in Mermaid node labels.
func sanitizeMermaidText(text string) string {
	replacer := strings.NewReplacer(
		"\"", "'",
		"[", "(",
		"]", ")",
		"{", "(",
		"}", ")",
		"<", "&lt;",
		">", "&gt;",
		"|", "/",
		"`", "'",
		"\n", " ",
		"\r", "",
	)
	result := replacer.Replace(text)

	result = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, result)

	result = strings.TrimSpace(result)

	runes := []rune(result)
	if len(runes) > 40 {
		result = string(runes[:37]) + "..."
	}
	return result
}

// MarkdownOptions controls the assembly report.
type MarkdownOptions struct {
	Title string
	// Graph is the containment graph drawn as a Mermaid flowchart. When nil
	// the flowchart is derived from the tree's parent links.
	Graph      *model.HasseGraph
	SelectedID string
	Now        func() time.Time
}

// GenerateMarkdown renders a report of the assembly: kind counts, a table
// of contents, the containment flowchart and one section per node.
func GenerateMarkdown(tree *model.AssemblyNode, opts MarkdownOptions) (string, error) {
	if tree == nil {
		return "", fmt.Errorf("no assembly tree")
	}
	title := opts.Title
	if title == "" {
		title = tree.Name
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	nodes := FlattenTree(tree)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "*Generated: %s*\n\n", now().Format(time.RFC1123))

	sb.WriteString("## Summary\n\n")
	counts := make(map[model.Kind]int)
	maxDepth := 0
	for _, n := range nodes {
		counts[n.Kind]++
		maxDepth = max(maxDepth, n.Depth)
	}
	sb.WriteString("| Metric | Count |\n|--------|-------|\n")
	fmt.Fprintf(&sb, "| **Nodes** | %d |\n", len(nodes))
	for _, k := range []model.Kind{model.KindAssembly, model.KindPart, model.KindShell, model.KindFace} {
		if counts[k] > 0 {
			fmt.Fprintf(&sb, "| %s %s | %d |\n", kindIcon(k), k, counts[k])
		}
	}
	fmt.Fprintf(&sb, "| Depth | %d |\n\n", maxDepth)

	slugCounts := make(map[string]int, len(nodes))
	slugs := make([]string, len(nodes))
	for i, n := range nodes {
		slugs[i] = uniqueSlug(createSlug(headingText(n)), slugCounts)
	}

	sb.WriteString("## Contents\n\n")
	for i, n := range nodes {
		fmt.Fprintf(&sb, "%s- [%s %s](#%s)\n", strings.Repeat("  ", n.Depth), kindIcon(n.Kind), headingText(n), slugs[i])
	}
	sb.WriteString("\n---\n\n")

	sb.WriteString("## Containment\n\n")
	sb.WriteString("```mermaid\ngraph BT\n")
	sb.WriteString(mermaidBody(nodes, opts.Graph, opts.SelectedID))
	sb.WriteString("```\n\n---\n\n")

	for i, n := range nodes {
		fmt.Fprintf(&sb, "## %s\n\n", headingText(n))
		sb.WriteString("| Property | Value |\n|----------|-------|\n")
		fmt.Fprintf(&sb, "| **ID** | `%s` |\n", n.ID)
		fmt.Fprintf(&sb, "| **Kind** | %s %s |\n", kindIcon(n.Kind), n.Kind)
		fmt.Fprintf(&sb, "| **Path** | `%s` |\n", n.Path)
		if n.ParentID != "" {
			fmt.Fprintf(&sb, "| **Parent** | `%s` |\n", n.ParentID)
		}
		fmt.Fprintf(&sb, "| **Children** | %d |\n", n.Children)
		sb.WriteString("\n")
		if n.ID == opts.SelectedID {
			sb.WriteString("> Currently selected.\n\n")
		}
		if i < len(nodes)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return sb.String(), nil
}

func mermaidBody(nodes []ExportNode, g *model.HasseGraph, selected string) string {
	var sb strings.Builder
	sb.WriteString("    classDef assembly fill:#e9e3ff,stroke:#374151\n")
	sb.WriteString("    classDef part fill:#deebff,stroke:#374151\n")
	sb.WriteString("    classDef selected fill:#ff6b35,stroke:#374151,color:#fff\n")

	ids := make(map[string]string)
	safe := func(id string) string {
		if s, ok := ids[id]; ok {
			return s
		}
		s := sanitizeMermaidID(id)
		for n := 1; ; n++ {
			taken := false
			for _, v := range ids {
				if v == s {
					taken = true
					break
				}
			}
			if !taken {
				break
			}
			s = fmt.Sprintf("%s_%d", sanitizeMermaidID(id), n)
		}
		ids[id] = s
		return s
	}

	for _, n := range nodes {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", safe(n.ID), sanitizeMermaidText(n.Name))
		switch {
		case n.ID == selected:
			fmt.Fprintf(&sb, "    class %s selected\n", safe(n.ID))
		case n.Kind == model.KindAssembly:
			fmt.Fprintf(&sb, "    class %s assembly\n", safe(n.ID))
		default:
			fmt.Fprintf(&sb, "    class %s part\n", safe(n.ID))
		}
	}

	if g != nil {
		for _, e := range g.Edges {
			fmt.Fprintf(&sb, "    %s --> %s\n", safe(e.Source), safe(e.Target))
		}
		return sb.String()
	}
	for _, n := range nodes {
		if n.ParentID != "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", safe(n.ID), safe(n.ParentID))
		}
	}
	return sb.String()
}

func headingText(n ExportNode) string {
	return fmt.Sprintf("%s %s", n.ID, n.Name)
}

func uniqueSlug(base string, counts map[string]int) string {
	if base == "" {
		base = "node"
	}
	n := counts[base]
	counts[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

func createSlug(text string) string {
	slug := strings.ToLower(text)
	slug = slugNonAlphanumericRegex.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func kindIcon(k model.Kind) string {
	switch k {
	case model.KindAssembly:
		return "🧩"
	case model.KindPart:
		return "⚙️"
	case model.KindShell:
		return "🐚"
	case model.KindFace:
		return "▫️"
	default:
		return "•"
	}
}

// SaveMarkdownToFile writes the assembly report to filename.
func SaveMarkdownToFile(tree *model.AssemblyNode, opts MarkdownOptions, filename string) error {
	content, err := GenerateMarkdown(tree, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0o644)
}
