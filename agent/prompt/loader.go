package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/system.txt
	systemRaw string

	//go:embed template/reflection.txt
	reflectionRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	System     string
	Reflection string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings. Safe to call
// concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		System:     strings.TrimSpace(systemRaw),
		Reflection: strings.TrimSpace(reflectionRaw),
	}
}
