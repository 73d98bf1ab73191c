package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/veridoc/ai"
)

const parameterResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "parameters": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "value": {"type": "string"},
          "unit": {"type": "string"},
          "condition": {"type": "string"}
        },
        "required": ["name", "value", "unit"],
        "additionalProperties": false
      }
    }
  },
  "required": ["parameters"],
  "additionalProperties": false
}`

const parameterPromptTemplate = `You are a senior IC design and BCD process engineer. Extract every engineering
parameter stated in the given text and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- name is the parameter as written in the text, for example "BVDSS" or "gate oxide thickness".
- value is the number exactly as written, without the unit. Keep ranges such as "4.5-5.5".
- unit is the unit exactly as written, for example "V", "nm", "uA". Use "" if the value has none.
- condition captures test or operating conditions such as "Tj=25C, VGS=0V". Use "" if none are stated.
- Extract only values that are explicitly stated. Do not compute, convert or guess.
- If no parameters are stated, return "parameters": [].

Example:
Input: "The 60V LDMOS achieves BVDSS of 72 V at VGS = 0 V."
Output:
{"parameters":[{"name":"BVDSS","value":"72","unit":"V","condition":"VGS = 0 V"}]}`

const arbitrationResponseSchema = `{
  "type": "object",
  "properties": {
    "resolved": {"type": "boolean"},
    "reason": {"type": "string"},
    "parameters": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "value": {"type": "string"},
          "unit": {"type": "string"},
          "condition": {"type": "string"}
        },
        "required": ["name", "value", "unit"]
      }
    }
  },
  "required": ["resolved", "parameters"]
}`

const arbitrationPromptTemplate = `You are a strict technical reviewer for IC design and BCD process documents.
Two independent extractions of the same source text disagree. Decide which parameter values are actually
supported by the source text.

Output ONLY valid JSON which complies with this schema:

%s

Rules:
- Check every parameter against the source text. Numbers, units and conditions must match the text exactly.
- parameters is the corrected list, containing only values supported by the source text.
- Set resolved to true only if you are certain the corrected list is right.
- Set resolved to false if the source text is ambiguous or neither extraction can be confirmed, and explain why in reason.`

const tableResponseSchema = `{
  "type": "object",
  "properties": {
    "headers": {
      "type": "array",
      "items": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "text": {"type": "string"},
            "span": {"type": "integer", "minimum": 1}
          },
          "required": ["text", "span"]
        }
      }
    },
    "rows": {
      "type": "array",
      "items": {"type": "array", "items": {"type": "string"}}
    }
  },
  "required": ["headers", "rows"]
}`

const tablePromptTemplate = `You are a senior IC design and BCD process engineer. The given text is a process
parameter table extracted from a PDF. Rebuild it as a normalized table and return it as JSON.

Output ONLY valid JSON which complies with this schema:

%s

Rules:
- headers holds one entry per header row, top to bottom.
- A merged parent header covering several columns is one cell with span set to the number of columns it covers.
- The last header row names every column with span 1, so its length is the column count.
- Every row in rows has exactly one string per column. Use "" for empty cells.
- Keep numbers and units exactly as written. Do not add columns that are not in the text.`

const relationResponseSchema = `{
  "type": "object",
  "properties": {
    "relations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "source_type": {"type": "string"},
          "relation": {"type": "string"},
          "target": {"type": "string"},
          "target_type": {"type": "string"}
        },
        "required": ["source", "source_type", "relation", "target", "target_type"]
      }
    }
  },
  "required": ["relations"]
}`

const relationPromptTemplate = `You are a senior IC design and BCD process engineer. Extract entities and the
relations between them from the given text and return them as JSON.

Output ONLY valid JSON which complies with this schema:

%s

Rules:
- relation must be exactly one of: %s.
- source_type and target_type must be exactly one of: %s.
- Use the entity name as written in the text.
- Extract only relations that are explicitly stated. Do not hallucinate.
- If nothing can be extracted, return "relations": [].`

const answerSystemPrompt = `You are a senior IC design and BCD process engineer. Answer the user's question
using only the numbered context passages provided.

Rules:
- Every number, unit and proper name in your answer must appear in the context.
- Cite passages with their number in square brackets, for example [2].
- If the context does not contain the answer, say so plainly.
- Be concise and technical.`

const auditResponseSchema = `{
  "type": "object",
  "properties": {
    "passed": {"type": "boolean"},
    "issues": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["passed", "issues"]
}`

const auditPromptTemplate = `You are a strict fact auditor. Check whether a generated answer is fully
supported by the original context.

Steps:
1. Check each sentence of the answer for support in the context.
2. Pay special attention to numbers, units and proper nouns.
3. List every statement with no support in the context.
4. Give the final result.

Output ONLY valid JSON which complies with this schema:

%s

Set passed to true only if there are no unsupported statements. issues is empty when passed is true.`

const visionSystemPrompt = `You are a senior IC design and BCD process engineer analyzing a figure from a technical document.
1. If the image is a table, with or without ruling lines, convert it to a Markdown table.
2. If it is a circuit diagram, cross-section or schematic, describe its structure, key parameters and characteristics.
3. If it is a screenshot of text, transcribe the text.
Report only what is visible in the image.`

// strictReminder is appended to the system prompt on a retry after malformed output.
const strictReminder = `

IMPORTANT: Your previous response was not valid JSON for this schema. Respond with a single JSON object
that matches the schema exactly. No markdown, no code fences, no comments, no trailing commas.`

func withStrict(prompt string, strict bool) string {
	if strict {
		return prompt + strictReminder
	}
	return prompt
}

func buildParameterPrompt(strict bool) string {
	return withStrict(fmt.Sprintf(parameterPromptTemplate, parameterResponseSchema), strict)
}

func buildArbitrationPrompt(strict bool) string {
	return withStrict(fmt.Sprintf(arbitrationPromptTemplate, arbitrationResponseSchema), strict)
}

func buildTablePrompt(strict bool) string {
	return withStrict(fmt.Sprintf(tablePromptTemplate, tableResponseSchema), strict)
}

func buildRelationPrompt() string {
	return fmt.Sprintf(relationPromptTemplate,
		relationResponseSchema,
		strings.Join(ai.RelationTypes, ", "),
		strings.Join(ai.EntityTypes, ", "))
}

func buildAuditPrompt() string {
	return fmt.Sprintf(auditPromptTemplate, auditResponseSchema)
}

// formatContexts renders numbered context passages for answer generation and audit.
func formatContexts(contexts []ai.Context) string {
	var sb strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[%d] %s, page %d\n%s\n\n", i+1, c.Filename, c.Page, c.Text)
	}
	return strings.TrimSpace(sb.String())
}
