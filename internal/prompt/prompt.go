package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultDetection is the instruction sent alongside the image.
const DefaultDetection = "Identify all visible food ingredients in this image. " +
	"Return ONLY a comma-separated list of ingredient names. " +
	"Do not add explanations."

// DefaultCuisine is the regional cuisine recipes are drawn from.
const DefaultCuisine = "Indian"

// DefaultRecipeTemplate is rendered with the raw detection text.
const DefaultRecipeTemplate = `
Using the following ingredients: {{.Ingredients}}

Suggest 3 popular {{.Cuisine}} recipes.

For each recipe provide:
- Recipe name
- Required ingredients
- Simple step-by-step instructions

Keep the language simple and easy to understand.
`

const ingredientsSentinel = "\x00ingredients\x00"

// Set holds the two prompts a run uses.
type Set struct {
	detection string
	cuisine   string
	recipe    *template.Template
}

// New parses the recipe template. Empty arguments fall back to the defaults.
func New(detection, cuisine, recipeTemplate string) (*Set, error) {
	if strings.TrimSpace(detection) == "" {
		detection = DefaultDetection
	}
	if strings.TrimSpace(cuisine) == "" {
		cuisine = DefaultCuisine
	}
	if strings.TrimSpace(recipeTemplate) == "" {
		recipeTemplate = DefaultRecipeTemplate
	}

	tmpl, err := template.New("recipe").Option("missingkey=error").Parse(recipeTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipe template: %w", err)
	}

	s := &Set{detection: detection, cuisine: cuisine, recipe: tmpl}
	rendered, err := s.Recipe(ingredientsSentinel)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(rendered, ingredientsSentinel) {
		return nil, fmt.Errorf("recipe template must reference {{.Ingredients}}")
	}
	return s, nil
}

// MustDefault returns the built-in prompt set.
func MustDefault() *Set {
	s, err := New("", "", "")
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) Detection() string {
	return s.detection
}

func (s *Set) Cuisine() string {
	return s.cuisine
}

// Recipe renders the generation prompt. ingredients is inserted exactly as
// the detector returned it.
func (s *Set) Recipe(ingredients string) (string, error) {
	var b strings.Builder
	err := s.recipe.Execute(&b, struct {
		Ingredients string
		Cuisine     string
	}{
		Ingredients: ingredients,
		Cuisine:     s.cuisine,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render recipe prompt: %w", err)
	}
	return b.String(), nil
}
