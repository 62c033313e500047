package operations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetry-tutor/internal/models"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, op := range c.All() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{
		"addNumbers",
		"changeLinesToFollowMetre",
		"generateFewLinesForInspiration",
		"generateQuickLines",
		"getInspired",
		"poeticMetreFinder",
		"recommendPoem",
		"reviewTheFeatures",
		"rhymeScheme",
		"rhymeTwoSelectedLines",
		"rhymeWholePoem",
	}, names)

	assert.Equal(t, []string{"gpt-3.5-turbo"}, c.Models())
}

func TestDefaultCatalogRequiredFields(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	want := map[string][]string{
		"rhymeScheme":                    {"poem"},
		"poeticMetreFinder":              {"poem"},
		"recommendPoem":                  {"poem"},
		"reviewTheFeatures":              {"poem", "features"},
		"rhymeTwoSelectedLines":          {"selectedLines"},
		"generateQuickLines":             {"previousLine", "nextLines", "previousLines", "features"},
		"changeLinesToFollowMetre":       {"lines", "metreFeature"},
		"generateFewLinesForInspiration": {"lines"},
		"getInspired":                    {"lines"},
		"rhymeWholePoem":                 {"lines", "rhymeScheme"},
		"addNumbers":                     {"num1", "num2"},
	}
	for name, required := range want {
		op, ok := c.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, required, op.Required, name)
	}
}

func TestDefaultCatalogTemplates(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	metre, _ := c.Lookup("poeticMetreFinder")
	assert.InDelta(t, 0.9, metre.Temperature, 1e-9)
	out, err := metre.Template.Render(map[string]any{"poem": "x"})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, models.RoleSystem, out.Messages[0].Role)
	assert.Equal(t, "x", out.Messages[1].Content)

	rhyme, _ := c.Lookup("rhymeScheme")
	assert.InDelta(t, 1.0, rhyme.Temperature, 1e-9)
	assert.Equal(t, []string{"poem"}, rhyme.Template.Variables())
	out, err = rhyme.Template.Render(map[string]any{"poem": "x"})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, models.RoleUser, out.Messages[0].Role)

	quick, _ := c.Lookup("generateQuickLines")
	assert.Equal(t, "gpt-3.5-turbo", quick.Model)
	assert.Equal(t, []string{"form", "nextLines", "previousLines", "rhyme", "syllables"}, quick.Template.Variables())

	add, _ := c.Lookup("addNumbers")
	assert.False(t, add.Generative())
	assert.Nil(t, add.Template)
}

func TestExpandPositional(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	op, _ := c.Lookup("generateQuickLines")

	in := map[string]any{"features": []any{"sonnet", json.Number("10"), "ABAB"}, "previousLines": "p"}
	out := op.Expand(in)
	assert.Equal(t, "sonnet", out["form"])
	assert.Equal(t, json.Number("10"), out["syllables"])
	assert.Equal(t, "ABAB", out["rhyme"])
	assert.NotContains(t, in, "form")

	out = op.Expand(map[string]any{"features": []any{"haiku"}})
	assert.Equal(t, "haiku", out["form"])
	assert.Equal(t, "", out["syllables"])
	assert.Equal(t, "", out["rhyme"])

	out = op.Expand(map[string]any{"features": "limerick"})
	assert.Equal(t, "limerick", out["form"])
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `operations: []`},
		{"no name", `
operations:
  - required: [poem]
    message: m
    temperature: 1
    template: {instruction: "{poem}"}`},
		{"duplicate", `
operations:
  - {name: a, required: [poem], message: m, temperature: 1, template: {instruction: "{poem}"}}
  - {name: a, required: [poem], message: m, temperature: 1, template: {instruction: "{poem}"}}`},
		{"unbound placeholder", `
operations:
  - {name: a, required: [poem], message: m, temperature: 1, template: {instruction: "{poem} {lines}"}}`},
		{"missing temperature", `
operations:
  - {name: a, required: [poem], message: m, template: {instruction: "{poem}"}}`},
		{"temperature out of range", `
operations:
  - {name: a, required: [poem], message: m, temperature: 3, template: {instruction: "{poem}"}}`},
		{"both template kinds", `
operations:
  - {name: a, required: [poem], message: m, temperature: 1, template: {instruction: "{poem}", system: "s", human: "h"}}`},
		{"system without human", `
operations:
  - {name: a, required: [poem], message: m, temperature: 1, template: {system: "{poem}"}}`},
		{"expansion of optional field", `
operations:
  - {name: a, required: [poem], message: m, temperature: 1, expand: {features: [form]}, template: {instruction: "{form}"}}`},
		{"unknown native", `
operations:
  - {name: a, required: [x], message: m, native: product}`},
		{"no message", `
operations:
  - {name: a, required: [poem], temperature: 1, template: {instruction: "{poem}"}}`},
		{"malformed", `operations: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
