// Package policy holds the per-model behavior tables: fallback aliases,
// streaming chunk rewrite rules, paid-model messaging and the set of models
// that require the non-streaming image path. The tables ship with built-in
// defaults and can be replaced wholesale from a YAML file so new models can
// be accommodated without touching the request flow.
package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Table is the compiled policy set consulted by the gateway.
type Table struct {
	fallbacks  map[string]string
	rewrites   []rewriteSet
	paidModels []paidModel
	imageRe    []*regexp.Regexp
}

type rewriteSet struct {
	modelRe *regexp.Regexp
	rules   []rewriteRule
}

type rewriteRule struct {
	re      *regexp.Regexp
	replace string
}

type paidModel struct {
	modelRe   *regexp.Regexp
	excludeRe *regexp.Regexp
	message   string
}

// File mirrors the YAML layout of an external policy file.
type File struct {
	Fallbacks map[string]string `yaml:"fallbacks,omitempty"`
	Rewrites  []RewriteConfig   `yaml:"rewrites,omitempty"`
	Paid      []PaidConfig      `yaml:"paid_models,omitempty"`
	Image     []string          `yaml:"image_models,omitempty"`
}

// RewriteConfig declares chunk rewrite rules for models matching a pattern.
type RewriteConfig struct {
	Model string        `yaml:"model"`
	Rules []RewriteRule `yaml:"rules"`
}

// RewriteRule is one regex substitution applied to every streamed chunk.
type RewriteRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// PaidConfig attaches a friendlier payment-required message to a model
// pattern. Exclude carves out variants (free tiers) from the match.
type PaidConfig struct {
	Model   string `yaml:"model"`
	Exclude string `yaml:"exclude,omitempty"`
	Message string `yaml:"message"`
}

const glm45AirMessage = `The model GLM 4.5 Air is a paid model on OpenRouter. Please add your own OpenRouter API key with credit, or select the FREE pool variant "GLM 4.5 Air (FREE)".`

// generic402Message is used when no paid-model pattern matches a 402.
const generic402Message = "Provider returned 402 (payment required / insufficient credit). Add your own OpenRouter API key with credit, or pick a free model variant if available."

// defaultFile reproduces the policy the gateway shipped with.
func defaultFile() File {
	return File{
		Fallbacks: map[string]string{
			"anthropic/claude-sonnet-4": "anthropic/claude-3.7-sonnet",
		},
		Rewrites: []RewriteConfig{
			{
				Model: `(?i)tencent\s*/\s*hunyuan-a13b-instruct`,
				Rules: []RewriteRule{
					{Pattern: `(?i)<answer[^>]*>`, Replace: ""},
					{Pattern: `(?i)</answer>`, Replace: ""},
					{Pattern: `(?i)<(?:b|strong)>`, Replace: "**"},
					{Pattern: `(?i)</(?:b|strong)>`, Replace: "**"},
					{Pattern: `(?i)<(?:i|em)>`, Replace: "*"},
					{Pattern: `(?i)</(?:i|em)>`, Replace: "*"},
					{Pattern: `(?i)<br\s*/?\s*>`, Replace: "\n"},
					{Pattern: `(?i)<p[^>]*>`, Replace: ""},
					{Pattern: `(?i)</p>`, Replace: "\n\n"},
				},
			},
		},
		Paid: []PaidConfig{
			{Model: `(?i)z-ai\s*/\s*glm-4\.5-air`, Exclude: `(?i):free`, Message: glm45AirMessage},
		},
		Image: []string{
			`(?i)google/gemini-2\.5-flash-image-preview`,
		},
	}
}

// Default returns the built-in policy table.
func Default() *Table {
	t, err := Compile(defaultFile())
	if err != nil {
		// The built-in patterns are constants; a compile failure is a bug.
		panic(fmt.Sprintf("policy: compile defaults: %v", err))
	}
	return t
}

// Load reads a policy file and compiles it. The file replaces the defaults
// entirely so operators see exactly what they configured.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	t, err := Compile(f)
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	return t, nil
}

// Compile validates patterns and builds the lookup structures.
func Compile(f File) (*Table, error) {
	t := &Table{fallbacks: map[string]string{}}
	for k, v := range f.Fallbacks {
		t.fallbacks[k] = v
	}
	for _, rc := range f.Rewrites {
		mre, err := regexp.Compile(rc.Model)
		if err != nil {
			return nil, fmt.Errorf("rewrite model pattern %q: %w", rc.Model, err)
		}
		set := rewriteSet{modelRe: mre}
		for _, r := range rc.Rules {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rewrite rule %q: %w", r.Pattern, err)
			}
			set.rules = append(set.rules, rewriteRule{re: re, replace: r.Replace})
		}
		t.rewrites = append(t.rewrites, set)
	}
	for _, pc := range f.Paid {
		re, err := regexp.Compile(pc.Model)
		if err != nil {
			return nil, fmt.Errorf("paid model pattern %q: %w", pc.Model, err)
		}
		pm := paidModel{modelRe: re, message: pc.Message}
		if pc.Exclude != "" {
			ex, err := regexp.Compile(pc.Exclude)
			if err != nil {
				return nil, fmt.Errorf("paid model exclude %q: %w", pc.Exclude, err)
			}
			pm.excludeRe = ex
		}
		t.paidModels = append(t.paidModels, pm)
	}
	for _, p := range f.Image {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("image model pattern %q: %w", p, err)
		}
		t.imageRe = append(t.imageRe, re)
	}
	return t, nil
}

// FallbackFor returns the configured fallback alias for an exact model id.
func (t *Table) FallbackFor(model string) (string, bool) {
	fb, ok := t.fallbacks[model]
	return fb, ok
}

// SanitizeChunk applies the rewrite rules of every matching model pattern to
// one streamed text chunk. Stateless per chunk.
func (t *Table) SanitizeChunk(model, text string) string {
	for _, set := range t.rewrites {
		if !set.modelRe.MatchString(model) {
			continue
		}
		for _, r := range set.rules {
			text = r.re.ReplaceAllString(text, r.replace)
		}
	}
	return text
}

// PaymentRequiredMessage returns the user-facing message for a 402 from the
// given model, preferring a model-specific template over the generic one.
func (t *Table) PaymentRequiredMessage(model string) string {
	for _, p := range t.paidModels {
		if !p.modelRe.MatchString(model) || p.message == "" {
			continue
		}
		if p.excludeRe != nil && p.excludeRe.MatchString(model) {
			continue
		}
		return p.message
	}
	return generic402Message
}

// IsImageModel reports whether the model must take the non-streaming path.
func (t *Table) IsImageModel(model string) bool {
	for _, re := range t.imageRe {
		if re.MatchString(model) {
			return true
		}
	}
	return false
}
