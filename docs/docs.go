// Package docs registers the OpenAPI document of the massdispatch API with swag
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/api/v1/health": {
            "get": {"tags": ["Health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/mass-messages": {
            "post": {
                "tags": ["Mass Messages"],
                "summary": "Create Mass Message",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/dto.CreateMassMessageRequest"}}],
                "responses": {
                    "201": {"description": "Mass message scheduled", "schema": {"$ref": "#/definitions/dto.APIResponse"}},
                    "400": {"description": "Validation error or no recipients", "schema": {"$ref": "#/definitions/dto.APIResponse"}},
                    "404": {"description": "Channel or template not found", "schema": {"$ref": "#/definitions/dto.APIResponse"}},
                    "422": {"description": "Channel inactive", "schema": {"$ref": "#/definitions/dto.APIResponse"}}
                }
            },
            "get": {
                "tags": ["Mass Messages"],
                "summary": "List Mass Messages",
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "orderby", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.APIResponse"}}}
            }
        },
        "/api/v1/mass-messages/{uuid}": {
            "get": {
                "tags": ["Mass Messages"],
                "summary": "Get Mass Message",
                "parameters": [{"type": "string", "name": "uuid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Batch not found"}}
            }
        },
        "/api/v1/mass-messages/{uuid}/recipients": {
            "get": {
                "tags": ["Mass Messages"],
                "summary": "List Mass Message Recipients",
                "parameters": [
                    {"type": "string", "name": "uuid", "in": "path", "required": true},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Batch not found"}}
            }
        },
        "/api/v1/mass-messages/{uuid}/report": {
            "get": {
                "tags": ["Mass Messages"],
                "summary": "Download Mass Message Report",
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [{"type": "string", "name": "uuid", "in": "path", "required": true}],
                "responses": {"200": {"description": "Excel file"}, "404": {"description": "Batch not found"}}
            }
        },
        "/api/v1/mass-messages/{uuid}/cancel": {
            "post": {
                "tags": ["Mass Messages"],
                "summary": "Cancel Mass Message",
                "parameters": [{"type": "string", "name": "uuid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Batch not found"}, "409": {"description": "Batch is already terminal"}}
            }
        },
        "/api/v1/scheduled-messages": {
            "post": {
                "tags": ["Scheduled Messages"],
                "summary": "Create Scheduled Message",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/dto.CreateScheduledMessageRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Validation error"}}
            },
            "get": {
                "tags": ["Scheduled Messages"],
                "summary": "List Scheduled Messages",
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/scheduled-messages/{uuid}": {
            "put": {
                "tags": ["Scheduled Messages"],
                "summary": "Update Scheduled Message",
                "parameters": [{"type": "string", "name": "uuid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}, "409": {"description": "No longer pending"}}
            }
        },
        "/api/v1/scheduled-messages/{uuid}/cancel": {
            "post": {
                "tags": ["Scheduled Messages"],
                "summary": "Cancel Scheduled Message",
                "parameters": [{"type": "string", "name": "uuid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}, "409": {"description": "No longer pending"}}
            }
        },
        "/api/v1/admin/scheduler/run": {
            "post": {
                "tags": ["Admin Scheduler"],
                "summary": "Run Scheduler",
                "parameters": [{"type": "boolean", "name": "sync", "in": "query"}],
                "responses": {"200": {"description": "Tick finished"}, "202": {"description": "Tick triggered"}, "503": {"description": "Scheduler not running"}}
            }
        },
        "/api/v1/admin/scheduler/status": {
            "get": {"tags": ["Admin Scheduler"], "summary": "Scheduler Status", "responses": {"200": {"description": "OK"}}}
        }
    },
    "definitions": {
        "dto.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/dto.ErrorDetail"}
            }
        },
        "dto.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {}
            }
        },
        "dto.CreateMassMessageRequest": {
            "type": "object",
            "required": ["message_type", "target_type", "channel_id", "send_mode"],
            "properties": {
                "message_type": {"type": "string", "enum": ["template", "custom"]},
                "template_id": {"type": "integer"},
                "body": {"type": "string"},
                "template_values": {"type": "object", "additionalProperties": {"type": "string"}},
                "target_type": {"type": "string", "enum": ["contacts", "campaign-groups", "manual"]},
                "contact_ids": {"type": "array", "items": {"type": "integer"}},
                "campaign_ids": {"type": "array", "items": {"type": "integer"}},
                "phones": {"type": "array", "items": {"type": "string"}},
                "channel_id": {"type": "integer"},
                "send_mode": {"type": "string", "enum": ["immediate", "scheduled"]},
                "scheduled_at": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "delay_between_groups": {"type": "integer"},
                "delay_between_messages": {"type": "integer"}
            }
        },
        "dto.CreateScheduledMessageRequest": {
            "type": "object",
            "required": ["channel_id", "body", "scheduled_at"],
            "properties": {
                "channel_id": {"type": "integer"},
                "contact_id": {"type": "integer"},
                "phone": {"type": "string"},
                "body": {"type": "string"},
                "message_type": {"type": "string", "enum": ["template", "custom"]},
                "scheduled_at": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "massdispatch API",
	Description:      "Scheduled and mass-message delivery service",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
