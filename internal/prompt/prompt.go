// Package prompt splits an agent system prompt into named states.
//
// A state starts at a line beginning with [[name]] and runs to the next
// marker or the end of the text. Lines starting with # or // inside a
// state are authoring notes and never reach the model. A fenced code
// block at the top of a state is that state's welcome message.
package prompt

import (
	"strings"
)

const fence = "```"

// Block is one state section of a prompt.
type Block struct {
	Name string
	// Body is the raw text after the marker, marker line remainder
	// included.
	Body string
}

// Parse returns the state blocks in the order they appear, duplicates
// included. Text before the first marker belongs to no block.
func Parse(prompt string) []Block {
	var (
		blocks  []Block
		current *Block
		body    []string
	)
	flush := func() {
		if current != nil {
			current.Body = strings.Join(body, "\n")
			blocks = append(blocks, *current)
		}
	}
	for _, line := range splitLines(prompt) {
		name, rest, ok := marker(line)
		if !ok {
			if current != nil {
				body = append(body, line)
			}
			continue
		}
		flush()
		current = &Block{Name: name}
		body = body[:0]
		if strings.TrimSpace(rest) != "" {
			body = append(body, rest)
		}
	}
	flush()
	return blocks
}

// ListStates returns declared state names in parse order. A name declared
// twice appears twice.
func ListStates(prompt string) []string {
	blocks := Parse(prompt)
	names := make([]string, 0, len(blocks))
	for _, b := range blocks {
		names = append(names, b.Name)
	}
	return names
}

// DuplicateStates returns names declared more than once, in order of their
// second appearance. Only the first block of a duplicated name is ever
// used.
func DuplicateStates(prompt string) []string {
	seen := make(map[string]int)
	var dups []string
	for _, name := range ListStates(prompt) {
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}

// HasState reports whether state is declared in prompt.
func HasState(prompt, state string) bool {
	_, ok := find(Parse(prompt), state)
	return ok
}

// ActiveInstructions returns the instructions the model should receive
// while the agent is in state.
//
// An empty state selects the first block, or the whole prompt when there
// are no markers. A state that is not declared falls back to the whole
// document so the agent never runs with empty instructions. Comment lines
// and the welcome fence are stripped from a selected block.
func ActiveInstructions(prompt, state string) string {
	blocks := Parse(prompt)
	if len(blocks) == 0 {
		return strings.TrimSpace(prompt)
	}

	var (
		block Block
		ok    bool
	)
	if strings.TrimSpace(state) == "" {
		block, ok = blocks[0], true
	} else {
		block, ok = find(blocks, state)
	}
	if !ok {
		return strings.TrimSpace(stripComments(prompt))
	}

	_, rest := splitWelcome(block.Body)
	return strings.TrimSpace(stripComments(rest))
}

// WelcomeMessage returns the fenced block at the top of the resolved
// state, without the fences, or "" if the state has none.
func WelcomeMessage(prompt, state string) string {
	blocks := Parse(prompt)
	var body string
	switch {
	case len(blocks) == 0:
		body = prompt
	case strings.TrimSpace(state) == "":
		body = blocks[0].Body
	default:
		b, ok := find(blocks, state)
		if !ok {
			return ""
		}
		body = b.Body
	}
	welcome, _ := splitWelcome(body)
	return welcome
}

func find(blocks []Block, state string) (Block, bool) {
	state = strings.TrimSpace(state)
	for _, b := range blocks {
		if b.Name == state {
			return b, true
		}
	}
	return Block{}, false
}

// marker parses a [[name]] prefix. name may not contain ']'.
func marker(line string) (name, rest string, ok bool) {
	if !strings.HasPrefix(line, "[[") {
		return "", "", false
	}
	end := strings.Index(line, "]]")
	if end < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[2:end])
	if name == "" || strings.Contains(name, "]") || strings.Contains(name, "[") {
		return "", "", false
	}
	return name, line[end+2:], true
}

func isComment(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//")
}

func stripComments(text string) string {
	lines := splitLines(text)
	kept := lines[:0]
	for _, line := range lines {
		if !isComment(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// splitWelcome separates a leading fenced block from the rest of body.
func splitWelcome(body string) (welcome, rest string) {
	lines := splitLines(body)
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
		return "", body
	}
	for j := i + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == fence {
			welcome = strings.TrimSpace(strings.Join(lines[i+1:j], "\n"))
			return welcome, strings.Join(lines[j+1:], "\n")
		}
	}
	// Unterminated fence: treat it as ordinary text.
	return "", body
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
