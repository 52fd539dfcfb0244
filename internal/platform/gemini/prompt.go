package gemini

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/phrazzld/shotstudio/internal/domain"
)

var subjects = map[domain.TaskType]string{
	domain.TaskTypeProduct:   "a clean commercial product photograph",
	domain.TaskTypeOutfit:    "a fashion photograph of the outfit worn by a model",
	domain.TaskTypeGroup:     "a group photograph",
	domain.TaskTypeReference: "a photograph matching the composition of the reference",
	domain.TaskTypeLifestyle: "a lifestyle photograph of the product in natural use",
	domain.TaskTypeStudio:    "a studio portrait with professional lighting",
}

const promptText = `Create {{.Subject}}.
{{- if .HasInput}}
Use the attached photo as the main subject. Keep its shape, colors and logos intact.
{{- end}}
{{- range .Directions}}
{{.}}
{{- end}}
This is variation {{.Variation}}; vary the camera angle and composition.
Return exactly one image.`

var promptTemplate = template.Must(template.New("image").Parse(promptText))

type promptData struct {
	Subject    string
	HasInput   bool
	Directions []string
	Variation  int
}

// known params are rendered with a label, the rest in key order
var labelled = []struct{ key, label string }{
	{"style", "Style"},
	{"lighting", "Lighting"},
	{"background", "Background"},
	{"aspect_ratio", "Aspect ratio"},
	{"instructions", "Creative direction"},
}

func buildPrompt(taskType domain.TaskType, params domain.Params, hasInput bool, index int) (string, error) {
	subject, ok := subjects[taskType]
	if !ok {
		subject = "a professional photograph"
	}

	data := promptData{
		Subject:   subject,
		HasInput:  hasInput,
		Variation: index + 1,
	}

	seen := make(map[string]bool, len(labelled))
	for _, l := range labelled {
		seen[l.key] = true
		if v := strings.TrimSpace(params.String(l.key)); v != "" {
			data.Directions = append(data.Directions, fmt.Sprintf("%s: %s.", l.label, v))
		}
	}

	rest := make([]string, 0, len(params))
	for k := range params {
		if !seen[k] && k != paramMode {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if v := strings.TrimSpace(params.String(k)); v != "" {
			data.Directions = append(data.Directions, fmt.Sprintf("%s: %s.", k, v))
		}
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
