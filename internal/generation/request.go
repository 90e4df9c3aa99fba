package generation

import (
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/vidqueue/pkg/models"
	"github.com/openai/openai-go/v3"
)

// BuildRequest encodes the chat completion body for job. A job with an image
// sends a two-part message of prompt text and image reference.
func BuildRequest(job models.Job) ([]byte, error) {
	var msg openai.ChatCompletionMessageParamUnion
	if job.Image != nil && *job.Image != "" {
		msg = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(job.Prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: *job.Image,
			}),
		})
	} else {
		msg = openai.UserMessage(job.Prompt)
	}

	params := openai.ChatCompletionNewParams{
		Model:    job.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{msg},
	}
	params.SetExtraFields(map[string]any{"stream": true})

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestBuild, err)
	}
	return body, nil
}
