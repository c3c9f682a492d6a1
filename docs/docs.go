// Package docs holds the OpenAPI document served under /swagger/ when the
// binary is built with -tags=swagger. Regenerate with `swag init -g cmd/lemond/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "lemond maintainers"
        },
        "license": {
            "name": "Apache-2.0",
            "url": "https://www.apache.org/licenses/LICENSE-2.0"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/chat/completions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "tags": ["inference"],
                "summary": "OpenAI-compatible inference",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/audio/transcriptions": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "Transcribe audio",
                "parameters": [
                    {"type": "file", "description": "audio file", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "model name", "name": "model", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List installed models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}
                }
            }
        },
        "/api/v1/models/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Describe one model",
                "parameters": [
                    {"type": "string", "description": "model name", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelEntry"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/load": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a model into its pool",
                "parameters": [
                    {"description": "model and launch options", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.LoadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusMessage"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/unload": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Unload one model, or all when model_name is empty",
                "parameters": [
                    {"description": "model to unload", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/types.UnloadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusMessage"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/pull": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Register a model with the catalog",
                "parameters": [
                    {"description": "model registration", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PullRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusMessage"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/delete": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Unload and remove a model from the catalog",
                "parameters": [
                    {"description": "model to delete", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.DeleteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusMessage"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Liveness and loaded models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/api/v1/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Telemetry of the last completed inference",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatsResponse"}}
                }
            }
        },
        "/api/v1/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Pool and slot detail",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorBody": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 404},
                "message": {"type": "string", "example": "model not found: Qwen3-0.6B-GGUF"},
                "type": {"type": "string", "example": "not_found_error"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/types.ErrorBody"}
            }
        },
        "types.ModelEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "Qwen3-0.6B-GGUF"},
                "object": {"type": "string", "example": "model"},
                "created": {"type": "integer"},
                "owned_by": {"type": "string", "example": "lemond"},
                "checkpoint": {"type": "string"},
                "recipe": {"type": "string", "example": "llamacpp"},
                "category": {"type": "string", "example": "llm"},
                "labels": {"type": "array", "items": {"type": "string"}},
                "loaded": {"type": "boolean"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {
                "object": {"type": "string", "example": "list"},
                "data": {"type": "array", "items": {"$ref": "#/definitions/types.ModelEntry"}}
            }
        },
        "types.LoadRequest": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string", "example": "Qwen3-0.6B-GGUF"},
                "ctx_size": {"type": "integer", "example": 8192},
                "llamacpp_backend": {"type": "string", "example": "vulkan"},
                "llamacpp_args": {"type": "string"}
            }
        },
        "types.UnloadRequest": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string"}
            }
        },
        "types.PullRequest": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string"},
                "checkpoint": {"type": "string"},
                "recipe": {"type": "string"},
                "path": {"type": "string"},
                "mmproj": {"type": "string"},
                "labels": {"type": "array", "items": {"type": "string"}},
                "reasoning": {"type": "boolean"},
                "vision": {"type": "boolean"},
                "embedding": {"type": "boolean"},
                "reranking": {"type": "boolean"}
            }
        },
        "types.DeleteRequest": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string", "example": "Qwen3-0.6B-GGUF"}
            }
        },
        "types.StatusMessage": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "success"},
                "message": {"type": "string"}
            }
        },
        "types.LoadedModelInfo": {
            "type": "object",
            "properties": {
                "model_name": {"type": "string"},
                "checkpoint": {"type": "string"},
                "recipe": {"type": "string"},
                "type": {"type": "string"},
                "device": {"type": "string"}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ok"},
                "model_loaded": {"type": "string"},
                "all_models_loaded": {"type": "array", "items": {"$ref": "#/definitions/types.LoadedModelInfo"}},
                "max_models": {"type": "object", "additionalProperties": {"type": "integer"}}
            }
        },
        "types.StatsResponse": {
            "type": "object",
            "properties": {
                "time_to_first_token": {"type": "number"},
                "tokens_per_second": {"type": "number"},
                "input_tokens": {"type": "integer"},
                "output_tokens": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "pools": {"type": "array", "items": {"type": "object"}},
                "npu_holder": {"type": "string"},
                "evictions_total": {"type": "integer"},
                "loads_total": {"type": "integer"},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "number"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "lemond API",
	Description:      "OpenAI-compatible local inference router with per-category model pools.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
