// Package functions declares the tools a live session may call and answers them.
package functions

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/kolokwa/style"
)

// GetCreatorInformation is the name of the creator lookup tool.
const GetCreatorInformation = "GetCreatorInformation"

// GetCreatorInformationDeclaration returns the function declaration for Gemini.
func GetCreatorInformationDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        GetCreatorInformation,
		Description: "Get who built and developed this assistant. Call it whenever the user asks who made you.",
	}
}

// CreatorInformation is the tool output.
func CreatorInformation() string {
	return style.CreatorIdentity + " I am a Liberian English (Kolokwa) assistant. My developer is " + style.CreatorName + "."
}

// Tools returns the tool set sent when a live session opens.
func Tools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				GetCreatorInformationDeclaration(),
			},
		},
	}
}

// Handle answers every call, reporting unknown functions as errors in the response.
func Handle(calls []*genai.FunctionCall) []*genai.FunctionResponse {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, fc := range calls {
		if fc == nil {
			continue
		}
		var response map[string]any
		switch fc.Name {
		case GetCreatorInformation:
			response = map[string]any{"output": CreatorInformation()}
			log.Debug().Str("function", fc.Name).Str("id", fc.ID).Msg("🔧 Returning creator information")
		default:
			response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", fc.Name)}
			log.Warn().Str("function", fc.Name).Str("id", fc.ID).Msg("⚠️ Unknown function called")
		}
		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: response,
		})
	}
	return responses
}
