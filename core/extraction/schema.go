package extraction

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/forksight/forksight/model"
)

// systemPrompt is the fixed instruction for the extraction call. The
// response shape is enforced separately through the JSON schema.
const systemPrompt = `You extract structured restaurant and dish mentions from community posts and comments about food.

For every distinct restaurant reference in the input, emit one mention with:
- the restaurant name exactly as written and its normalized form (lowercase, trimmed, single spaces)
- an optional dish or category reference with its hierarchical category path, most general first
- attribute lists for the restaurant and the dish (e.g. "cash only", "spicy")
- general_praise true only when the text praises the restaurant without naming a dish
- the source fields copied verbatim from the input item the mention was found in

Only extract mentions that are actually present in the text. Do not invent restaurants, dishes or attributes.`

// mentionsSchema is the strict response schema for the extraction call
var mentionsSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"mentions": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"temp_id":                    {Type: jsonschema.String},
					"restaurant_name":            {Type: jsonschema.String},
					"restaurant_normalized_name": {Type: jsonschema.String},
					"restaurant_attributes": {
						Type:  jsonschema.Array,
						Items: &jsonschema.Definition{Type: jsonschema.String},
					},
					"dish": {
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"name":            {Type: jsonschema.String},
							"normalized_name": {Type: jsonschema.String},
							"category_path": {
								Type:  jsonschema.Array,
								Items: &jsonschema.Definition{Type: jsonschema.String},
							},
							"attributes": {
								Type:  jsonschema.Array,
								Items: &jsonschema.Definition{Type: jsonschema.String},
							},
						},
						Required: []string{"name", "normalized_name"},
					},
					"general_praise": {Type: jsonschema.Boolean},
					"source": {
						Type: jsonschema.Object,
						Properties: map[string]jsonschema.Definition{
							"type":       {Type: jsonschema.String},
							"id":         {Type: jsonschema.String},
							"content":    {Type: jsonschema.String},
							"upvotes":    {Type: jsonschema.Integer},
							"url":        {Type: jsonschema.String},
							"created_at": {Type: jsonschema.String},
						},
						Required: []string{"type", "id", "content", "upvotes", "url", "created_at"},
					},
				},
				Required: []string{"temp_id", "restaurant_name", "restaurant_normalized_name", "general_praise", "source"},
			},
		},
	},
	Required: []string{"mentions"},
}

// buildUserPrompt serializes the content items into the user message
func buildUserPrompt(items []*model.MergedContentItem) (string, error) {
	payload, err := json.Marshal(struct {
		Posts []*model.MergedContentItem `json:"posts"`
	}{Posts: items})
	if err != nil {
		return "", fmt.Errorf("marshal content payload: %w", err)
	}
	return "Extract all restaurant and dish mentions from the following content:\n" + string(payload), nil
}
