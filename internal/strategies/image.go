package strategies

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools"
)

// ImageGenerationInput carries what RunImageGeneration needs: the
// step's image_generation tool config and the rendered instructions
// (prompt overrides come from the tool's Raw map).
type ImageGenerationInput struct {
	Model        string
	Prompt       string
	Size         string
	Quality      string
	Background   string
	N            int
}

// ImageGenerationInputFromTool builds an ImageGenerationInput from the
// normalized image_generation tool entry plus the step's assembled
// prompt text.
func ImageGenerationInputFromTool(t tools.Tool, prompt string) ImageGenerationInput {
	in := ImageGenerationInput{Model: tools.DefaultImageModel, Prompt: prompt, N: 1}
	if m, ok := t.Raw["model"].(string); ok && m != "" {
		in.Model = m
	}
	if v, ok := t.Raw["size"].(string); ok {
		in.Size = v
	}
	if v, ok := t.Raw["quality"].(string); ok {
		in.Quality = v
	}
	if v, ok := t.Raw["background"].(string); ok {
		in.Background = v
	}
	return in
}

// RunImageGeneration calls the provider's dedicated image-generation
// path (not the Responses API) using go-openai's Images client.
func RunImageGeneration(ctx context.Context, client *openai.Client, costs costCalculator, in ImageGenerationInput) (StepOutput, error) {
	req := openai.ImageRequest{
		Model:  in.Model,
		Prompt: in.Prompt,
		N:      in.N,
	}
	if in.Size != "" && in.Size != "auto" {
		req.Size = in.Size
	}
	if in.Quality != "" && in.Quality != "auto" {
		req.Quality = in.Quality
	}
	if in.Background != "" && in.Background != "auto" {
		req.Background = in.Background
	}
	req.ResponseFormat = openai.CreateImageResponseFormatB64JSON

	resp, err := client.CreateImage(ctx, req)
	if err != nil {
		return StepOutput{}, fmt.Errorf("generate image: %w", err)
	}

	out := StepOutput{Kind: KindImageGeneration}
	for _, datum := range resp.Data {
		if datum.B64JSON == "" {
			continue
		}
		out.ImageURLs = append(out.ImageURLs, "data:image/png;base64,"+datum.B64JSON)
	}
	out.Text = fmt.Sprintf("Generated %d image(s) with %s.", len(out.ImageURLs), in.Model)
	if costs != nil {
		out.Usage = models.Usage{CostUSD: costs.Calculate(in.Model, 0, 0)}
	}
	return out, nil
}
